package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/pkg/logger"
	"github.com/okian/presence/pkg/metrics"
)

// Delivery outcomes recorded in metrics.
const (
	DeliveryLive   = "live"
	DeliveryQueued = "queued"
	DeliveryFailed = "failed"
)

// PendingStore persists notifications for offline instructors.
type PendingStore interface {
	SavePending(ctx context.Context, n model.Notification) error
	TakePending(ctx context.Context, instructorID string) ([]model.Notification, error)
}

// Dispatcher delivers notifications through the hub, falling back to the
// pending store when the instructor has no live socket.
type Dispatcher struct {
	hub   *Hub
	store PendingStore
	cfg   settings
}

// NewDispatcher wires a hub to a pending store.
func NewDispatcher(hub *Hub, store PendingStore, opts ...Option) *Dispatcher {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{hub: hub, store: store, cfg: cfg}
}

// Notify sends n now if possible and reports whether it was delivered live.
// Undelivered notifications are queued; only a failed queue write is an error.
func (d *Dispatcher) Notify(ctx context.Context, n model.Notification) (bool, error) {
	if n.InstructorID == "" {
		return false, ErrMissingInstructor
	}
	if n.ID == "" {
		n.ID = d.cfg.newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.cfg.now()
	}

	payload, err := json.Marshal(n)
	if err != nil {
		metrics.RecordNotification(DeliveryFailed)
		return false, fmt.Errorf("encode notification: %w", err)
	}
	if d.hub.Send(n.InstructorID, payload) > 0 {
		metrics.RecordNotification(DeliveryLive)
		return true, nil
	}

	if err := d.store.SavePending(ctx, n); err != nil {
		metrics.RecordNotification(DeliveryFailed)
		return false, fmt.Errorf("queue notification: %w", err)
	}
	metrics.RecordNotification(DeliveryQueued)
	d.cfg.logger.Debug(ctx, "instructor offline, notification queued",
		logger.String("instructor_id", n.InstructorID), logger.String("type", n.Type))
	return false, nil
}

// ServeInstructor attaches an instructor socket and flushes what was queued
// while they were away.
func (d *Dispatcher) ServeInstructor(w http.ResponseWriter, r *http.Request, instructorID string) error {
	if err := d.hub.Attach(w, r, instructorID); err != nil {
		return err
	}
	ctx := r.Context()
	pending, err := d.store.TakePending(ctx, instructorID)
	if err != nil {
		d.cfg.logger.Warn(ctx, "load pending notifications", logger.String("instructor_id", instructorID), logger.Error(err))
		return nil
	}
	for i, n := range pending {
		payload, err := json.Marshal(n)
		if err != nil {
			continue
		}
		if d.hub.Send(instructorID, payload) == 0 {
			// Socket went away mid-flush; keep the rest for next time.
			for _, rest := range pending[i:] {
				if err := d.store.SavePending(ctx, rest); err != nil {
					d.cfg.logger.Warn(ctx, "requeue notification", logger.Error(err))
				}
			}
			return nil
		}
		metrics.RecordNotification(DeliveryLive)
	}
	if len(pending) > 0 {
		d.cfg.logger.Info(ctx, "flushed pending notifications",
			logger.String("instructor_id", instructorID), logger.Int("count", len(pending)))
	}
	return nil
}

// Hub returns the underlying hub.
func (d *Dispatcher) Hub() *Hub { return d.hub }
