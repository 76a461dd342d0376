package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/dispatch"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// DispatchPort is the slice of the dispatch engine the sender reads and
// writes back to.
type DispatchPort interface {
	Get(ctx context.Context, tenantID, dispatchID string) (dispatch.Dispatch, error)
	MarkNotified(ctx context.Context, tenantID, dispatchID string, n dispatch.Notification) error
}

// LogStore persists delivery attempts. Nil disables logging to the store.
type LogStore interface {
	Insert(ctx context.Context, log Log) error
}

// Sender consumes transit notice jobs, renders the message and delivers
// it through the gateway. Runs on the worker, never in the transition
// path.
type Sender struct {
	dispatches DispatchPort
	gateway    Gateway
	store      LogStore
	metrics    *observability.Metrics
	logger     *slog.Logger
	senderName string
}

// NewSender builds Sender.
func NewSender(dispatches DispatchPort, gateway Gateway, store LogStore, metrics *observability.Metrics, senderName string, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	if senderName == "" {
		senderName = "Dispatch Desk"
	}
	return &Sender{
		dispatches: dispatches,
		gateway:    gateway,
		store:      store,
		metrics:    metrics,
		logger:     logger,
		senderName: senderName,
	}
}

// HandleTask processes one transit notice job.
func (s *Sender) HandleTask(ctx context.Context, t *asynq.Task) error {
	payload, err := jobs.DecodeDispatchNotifyPayload(t)
	if err != nil {
		return asynq.SkipRetry
	}
	return s.Notify(ctx, payload.TenantID, payload.DispatchID, payload.Force)
}

// Notify sends the transit notice for one dispatch and records the
// outcome on the dispatch and in the notification log. force resends
// even when a notice already went out, overwriting the recorded
// notification.
func (s *Sender) Notify(ctx context.Context, tenantID, dispatchID string, force bool) error {
	d, err := s.dispatches.Get(ctx, tenantID, dispatchID)
	if err != nil {
		return err
	}
	if d.Notified.Sent && !force {
		// Task redelivered after a partial failure; the customer already
		// got the message.
		return nil
	}

	now := time.Now().UTC()
	entry := Log{
		TenantID:   tenantID,
		DispatchID: dispatchID,
		Channel:    "whatsapp",
		Recipient:  d.Customer.Phone,
		SentAt:     now,
	}

	messageID, err := s.gateway.Send(ctx, Message{
		Phone: d.Customer.Phone,
		Body:  BuildTransitMessage(d, s.senderName),
	})
	if err != nil {
		entry.Status = "failed"
		entry.Error = err.Error()
		s.record(ctx, entry)
		s.metrics.ObserveNotification("failed")
		s.logger.Error("send transit notice",
			slog.String("dispatch_id", dispatchID),
			slog.Any("error", err))
		return err
	}

	entry.Status = "sent"
	entry.MessageID = messageID
	s.record(ctx, entry)
	s.metrics.ObserveNotification("sent")

	if err := s.dispatches.MarkNotified(ctx, tenantID, dispatchID, dispatch.Notification{
		Sent: true, SentAt: &now, MessageID: messageID,
	}); err != nil {
		s.logger.Error("mark dispatch notified",
			slog.String("dispatch_id", dispatchID),
			slog.Any("error", err))
	}
	return nil
}

func (s *Sender) record(ctx context.Context, entry Log) {
	if s.store == nil {
		return
	}
	if err := s.store.Insert(ctx, entry); err != nil {
		s.logger.Error("insert notification log", slog.Any("error", err))
	}
}
