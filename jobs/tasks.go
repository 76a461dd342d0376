package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeDispatchNotify is the task type for the customer transit notice.
	TaskTypeDispatchNotify = "dispatch:notify"
)

// DispatchNotifyPayload identifies the dispatch to notify about. Force
// marks an operator-requested resend, which skips the already-sent
// dedupe meant for task redelivery.
type DispatchNotifyPayload struct {
	TenantID   string `json:"tenantId"`
	DispatchID string `json:"dispatchId"`
	Force      bool   `json:"force,omitempty"`
}

// NewDispatchNotifyTask constructs an Asynq task for a transit notice.
func NewDispatchNotifyTask(payload DispatchNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDispatchNotify, data, asynq.MaxRetry(5)), nil
}

// DecodeDispatchNotifyPayload parses a transit notice task payload.
func DecodeDispatchNotifyPayload(t *asynq.Task) (DispatchNotifyPayload, error) {
	var payload DispatchNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return DispatchNotifyPayload{}, err
	}
	return payload, nil
}

// EnqueueTransitNotice submits a transit notice job. Implements the
// dispatch engine's notifier port. force requests delivery even when a
// notice already went out.
func (c *Client) EnqueueTransitNotice(ctx context.Context, tenantID, dispatchID string, force bool) error {
	task, err := NewDispatchNotifyTask(DispatchNotifyPayload{TenantID: tenantID, DispatchID: dispatchID, Force: force})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}
