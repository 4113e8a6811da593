package repository

import (
	"context"

	"aircast/internal/model"
)

type SubscriptionRepository interface {
	// Create inserts a new record and returns its assigned id.
	// Coordinate constraints are enforced at the API boundary before this call.
	Create(ctx context.Context, tokenHash string, lat, lon float64, enabled bool, push *model.PushSubscription) (string, error)
	// GetByID returns model.ErrSubscriptionNotFound for an unknown id.
	GetByID(ctx context.Context, id string) (*model.Subscription, error)
	// ListAll returns every record. Used only by the authenticator's
	// bootstrap scan; never on the broadcast path.
	ListAll(ctx context.Context) ([]model.Subscription, error)
	// ListActive returns records with notifications enabled, in no
	// particular order.
	ListActive(ctx context.Context) ([]model.Subscription, error)
	// Update applies only the fields present in the partial update and
	// always refreshes updated_at. Unknown ids are a silent no-op; the
	// caller must authenticate beforehand.
	Update(ctx context.Context, id string, upd *model.SubscriptionUpdate) error
	// Delete is idempotent; deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// MarkNotified stamps last_notification_sent. Best-effort bookkeeping.
	MarkNotified(ctx context.Context, id string) error
	// ClearPushByEndpoint removes a dead endpoint descriptor wherever it is
	// stored. Idempotent; safe to retry.
	ClearPushByEndpoint(ctx context.Context, endpoint string) error
}
