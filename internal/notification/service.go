package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fastgas/payment-reconciliation/internal/core/events"
)

// Service sends payment outcome notifications to customers. Delivery is an
// SMS gateway in production; here the message is composed and logged, and the
// sender is pluggable.
type Service struct {
	sender Sender
	logger *slog.Logger
}

// Sender delivers one message to one recipient.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// LogSender writes messages to the log instead of an SMS gateway. Used in
// development and as the default when no gateway is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, phone, message string) error {
	s.Logger.Info("sms notification",
		"phone", maskPhone(phone),
		"message", message)
	return nil
}

func NewService(sender Sender, logger *slog.Logger) *Service {
	return &Service{
		sender: sender,
		logger: logger,
	}
}

// RegisterHandlers subscribes the service to payment terminal events.
func (s *Service) RegisterHandlers(bus *events.EventBus) {
	bus.Subscribe(events.EventTypePaymentCompleted, s.handlePaymentTerminal)
	bus.Subscribe(events.EventTypePaymentFailed, s.handlePaymentTerminal)
	bus.Subscribe(events.EventTypePaymentCancelled, s.handlePaymentTerminal)
	bus.Subscribe(events.EventTypePaymentTimedOut, s.handlePaymentTerminal)
}

func (s *Service) handlePaymentTerminal(ctx context.Context, event events.Event) error {
	pe, ok := event.(*events.PaymentTerminalEvent)
	if !ok {
		s.logger.Warn("unexpected event payload", "event_type", event.EventType())
		return nil
	}

	if pe.PayerPhone == "" {
		s.logger.Debug("no payer phone on event, skipping notification",
			"order_id", pe.OrderID)
		return nil
	}

	msg := s.composeMessage(pe)
	if msg == "" {
		return nil
	}

	if err := s.sender.Send(ctx, pe.PayerPhone, msg); err != nil {
		return fmt.Errorf("notification delivery failed for order %s: %w", pe.OrderID, err)
	}

	s.logger.Info("payment notification sent",
		"order_id", pe.OrderID,
		"event_type", pe.EventType(),
		"phone", maskPhone(pe.PayerPhone))
	return nil
}

func (s *Service) composeMessage(pe *events.PaymentTerminalEvent) string {
	amount := fmt.Sprintf("KES %d", pe.Amount)

	switch pe.EventType() {
	case events.EventTypePaymentCompleted:
		return fmt.Sprintf("Payment of %s for order %s received. Receipt: %s. Your gas is on the way!",
			amount, pe.OrderID, pe.ReceiptNumber)
	case events.EventTypePaymentCancelled:
		return fmt.Sprintf("You cancelled the payment request for order %s. Reply or dial again to retry.", pe.OrderID)
	case events.EventTypePaymentTimedOut:
		return fmt.Sprintf("We did not receive a response for the payment request for order %s. Please retry.", pe.OrderID)
	case events.EventTypePaymentFailed:
		return fmt.Sprintf("Payment of %s for order %s did not go through: %s. Please retry.",
			amount, pe.OrderID, pe.ResultDescription)
	default:
		return ""
	}
}

// maskPhone keeps the country code and last two digits.
func maskPhone(phone string) string {
	if len(phone) < 6 {
		return "***"
	}
	return phone[:4] + "*****" + phone[len(phone)-2:]
}
