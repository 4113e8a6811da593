package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"aircast/internal/model"
)

type subscriptionRepository struct {
	db *sqlx.DB
}

func NewSubscriptionRepository(db *sqlx.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create inserts a new subscription row with an app-generated UUID.
func (r *subscriptionRepository) Create(ctx context.Context, tokenHash string, lat, lon float64, enabled bool, push *model.PushSubscription) (string, error) {
	id := uuid.New().String()

	var pushRaw interface{}
	if push != nil {
		data, err := json.Marshal(push)
		if err != nil {
			return "", fmt.Errorf("encode push subscription: %w", err)
		}
		pushRaw = string(data)
	}

	query := `
		INSERT INTO subscriptions
			(id, session_token_hash, latitude, longitude, notifications_enabled, push_subscription, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`
	_, err := r.db.ExecContext(ctx, query, id, tokenHash, lat, lon, enabled, pushRaw)
	if err != nil {
		return "", fmt.Errorf("insert subscription: %w", err)
	}
	return id, nil
}

// validID reports whether id can be a subscriptions.id value. A malformed
// uuid would otherwise surface as a Postgres syntax error instead of the
// absent/no-op semantics the contract promises.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id string) (*model.Subscription, error) {
	if !validID(id) {
		return nil, model.ErrSubscriptionNotFound
	}
	query := `
		SELECT id, session_token_hash, latitude, longitude, notifications_enabled,
		       push_subscription, last_notification_sent, created_at, updated_at
		FROM subscriptions
		WHERE id = $1
	`
	var sub model.Subscription
	err := r.db.GetContext(ctx, &sub, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListAll(ctx context.Context) ([]model.Subscription, error) {
	query := `
		SELECT id, session_token_hash, latitude, longitude, notifications_enabled,
		       push_subscription, last_notification_sent, created_at, updated_at
		FROM subscriptions
	`
	var subs []model.Subscription
	if err := r.db.SelectContext(ctx, &subs, query); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (r *subscriptionRepository) ListActive(ctx context.Context) ([]model.Subscription, error) {
	query := `
		SELECT id, latitude, longitude, notifications_enabled,
		       push_subscription, last_notification_sent, created_at, updated_at
		FROM subscriptions
		WHERE notifications_enabled = true
	`
	var subs []model.Subscription
	if err := r.db.SelectContext(ctx, &subs, query); err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	return subs, nil
}

// Update builds the SET list from the fields present in the partial update.
// An empty update still refreshes updated_at. Field application is
// last-write-wins; two racing updates interleave per field without error.
func (r *subscriptionRepository) Update(ctx context.Context, id string, upd *model.SubscriptionUpdate) error {
	if !validID(id) {
		return nil
	}
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 5)

	if upd.NotificationsEnabled != nil {
		args = append(args, *upd.NotificationsEnabled)
		set = append(set, fmt.Sprintf("notifications_enabled = $%d", len(args)))
	}
	if upd.Latitude != nil {
		args = append(args, *upd.Latitude)
		set = append(set, fmt.Sprintf("latitude = $%d", len(args)))
	}
	if upd.Longitude != nil {
		args = append(args, *upd.Longitude)
		set = append(set, fmt.Sprintf("longitude = $%d", len(args)))
	}
	if upd.ClearPushSubscription {
		set = append(set, "push_subscription = NULL")
	} else if upd.PushSubscription != nil {
		data, err := json.Marshal(upd.PushSubscription)
		if err != nil {
			return fmt.Errorf("encode push subscription: %w", err)
		}
		args = append(args, string(data))
		set = append(set, fmt.Sprintf("push_subscription = $%d", len(args)))
	}

	set = append(set, "updated_at = NOW()")

	args = append(args, id)
	query := fmt.Sprintf("UPDATE subscriptions SET %s WHERE id = $%d",
		strings.Join(set, ", "), len(args))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	query := `DELETE FROM subscriptions WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) MarkNotified(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	query := `UPDATE subscriptions SET last_notification_sent = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// ClearPushByEndpoint clears a dead endpoint in one idempotent statement.
func (r *subscriptionRepository) ClearPushByEndpoint(ctx context.Context, endpoint string) error {
	query := `
		UPDATE subscriptions
		SET push_subscription = NULL, updated_at = NOW()
		WHERE push_subscription->>'endpoint' = $1
	`
	if _, err := r.db.ExecContext(ctx, query, endpoint); err != nil {
		return fmt.Errorf("clear push by endpoint: %w", err)
	}
	return nil
}
