package notify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"strings"
)

// Message is one outbound customer notification.
type Message struct {
	Phone string
	Body  string
}

// Gateway delivers customer notifications. Delivery is best effort;
// callers never roll back business state on a gateway failure.
type Gateway interface {
	Send(ctx context.Context, msg Message) (messageID string, err error)
}

// WhatsAppGateway is a stand-in for the real WhatsApp Business API
// integration. It validates input, assigns a message id in the provider
// format and logs the send.
type WhatsAppGateway struct {
	logger *slog.Logger
}

// NewWhatsAppGateway constructs WhatsAppGateway.
func NewWhatsAppGateway(logger *slog.Logger) *WhatsAppGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsAppGateway{logger: logger}
}

// ErrNoRecipientError is returned when the dispatch has no customer phone.
type ErrNoRecipientError struct{}

func (ErrNoRecipientError) Error() string { return "notify: no recipient phone" }

// Send delivers a message and returns the provider message id.
func (g *WhatsAppGateway) Send(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.Phone) == "" {
		return "", ErrNoRecipientError{}
	}
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := "WA-" + strings.ToUpper(hex.EncodeToString(buf))
	g.logger.Info("whatsapp message sent",
		slog.String("message_id", id),
		slog.String("phone", msg.Phone),
		slog.Int("body_len", len(msg.Body)))
	return id, nil
}
