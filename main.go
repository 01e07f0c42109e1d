package main

import "github.com/fastgas/payment-reconciliation/cmd"

func main() {
	cmd.Execute()
}
