package cmd

import (
	"fmt"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample orders for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := sqlx.Connect("pgx", cfg.Database.Source)
		if err != nil {
			log.Fatalf("failed to connect to db: %v", err)
		}
		defer db.Close()

		if clearData {
			for _, table := range []string{"order_status_history", "transactions", "orders"} {
				if _, err := db.Exec("DELETE FROM " + table); err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		seedOrders := []struct {
			Reference     string
			CustomerPhone string
			TotalAmount   int64
		}{
			{"FG-2024-0001", "254708374149", 2350},
			{"FG-2024-0002", "254708374150", 1150},
			{"FG-2024-0003", "254708374151", 4700},
		}

		for _, o := range seedOrders {
			var exists int
			err := db.Get(&exists, "SELECT 1 FROM orders WHERE reference = $1", o.Reference)
			if err == nil {
				fmt.Println("order already exists, skipping:", o.Reference)
				continue
			}

			_, err = db.Exec(
				"INSERT INTO orders (reference, customer_phone, total_amount, payment_state, created_at, updated_at) VALUES ($1, $2, $3, 'unpaid', now(), now())",
				o.Reference, o.CustomerPhone, o.TotalAmount,
			)
			if err != nil {
				log.Fatalf("failed to insert order %s: %v", o.Reference, err)
			}
			fmt.Println("Seeded order:", o.Reference)
		}
	},
}
