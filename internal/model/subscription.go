package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSubscriptionNotFound is returned when a subscription cannot be found
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrVAPIDNotConfigured is returned when push signing keys are missing
	ErrVAPIDNotConfigured = errors.New("VAPID keys not configured")
)

// PushKeys are the browser-issued encryption keys for a push endpoint.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is the browser-issued endpoint descriptor. Stored
// serialized as JSONB; syntactic validity is checked at the API boundary,
// deliverability is only discovered at delivery time.
type PushSubscription struct {
	Endpoint string   `json:"endpoint"`
	Keys     PushKeys `json:"keys"`
}

// Validate checks the descriptor is syntactically usable for delivery.
func (p *PushSubscription) Validate() error {
	if p.Endpoint == "" {
		return errors.New("push subscription endpoint is required")
	}
	if p.Keys.P256dh == "" || p.Keys.Auth == "" {
		return errors.New("push subscription keys p256dh and auth are required")
	}
	return nil
}

// Subscription represents one opted-in anonymous browser session.
type Subscription struct {
	ID                   string     `db:"id" json:"id"`
	SessionTokenHash     string     `db:"session_token_hash" json:"-"` // never serialized
	Latitude             float64    `db:"latitude" json:"latitude"`
	Longitude            float64    `db:"longitude" json:"longitude"`
	NotificationsEnabled bool       `db:"notifications_enabled" json:"notificationsEnabled"`
	PushSubscriptionRaw  *string    `db:"push_subscription" json:"-"`
	LastNotificationSent *time.Time `db:"last_notification_sent" json:"lastNotificationSent,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updatedAt"`
}

// DecodePushSubscription parses the stored endpoint descriptor.
// Returns nil when the session has no background delivery channel.
func (s *Subscription) DecodePushSubscription() (*PushSubscription, error) {
	if s.PushSubscriptionRaw == nil || *s.PushSubscriptionRaw == "" {
		return nil, nil
	}
	var push PushSubscription
	if err := json.Unmarshal([]byte(*s.PushSubscriptionRaw), &push); err != nil {
		return nil, fmt.Errorf("decode push subscription for %s: %w", s.ID, err)
	}
	return &push, nil
}

// HasPushSubscription reports whether the record carries a push endpoint.
func (s *Subscription) HasPushSubscription() bool {
	return s.PushSubscriptionRaw != nil && *s.PushSubscriptionRaw != ""
}

// SubscriptionUpdate is a partial update. Only non-nil fields are applied.
// ClearPushSubscription wins over PushSubscription and maps an explicit JSON
// null to SQL NULL.
type SubscriptionUpdate struct {
	NotificationsEnabled  *bool
	Latitude              *float64
	Longitude             *float64
	PushSubscription      *PushSubscription
	ClearPushSubscription bool
}

// IsEmpty reports whether the update carries no field changes.
// An empty update still refreshes updated_at at the store.
func (u *SubscriptionUpdate) IsEmpty() bool {
	return u.NotificationsEnabled == nil &&
		u.Latitude == nil &&
		u.Longitude == nil &&
		u.PushSubscription == nil &&
		!u.ClearPushSubscription
}

// SubscriptionSummary is the operational listing shape. It never includes
// the token hash or raw endpoint keys.
type SubscriptionSummary struct {
	ID                   string     `json:"id"`
	Latitude             float64    `json:"latitude"`
	Longitude            float64    `json:"longitude"`
	NotificationsEnabled bool       `json:"notificationsEnabled"`
	HasPushSubscription  bool       `json:"hasPushSubscription"`
	LastNotificationSent *time.Time `json:"lastNotificationSent,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
}

// Summary converts a record to its operational listing shape.
func (s *Subscription) Summary() SubscriptionSummary {
	return SubscriptionSummary{
		ID:                   s.ID,
		Latitude:             s.Latitude,
		Longitude:            s.Longitude,
		NotificationsEnabled: s.NotificationsEnabled,
		HasPushSubscription:  s.HasPushSubscription(),
		LastNotificationSent: s.LastNotificationSent,
		CreatedAt:            s.CreatedAt,
	}
}

// FieldIssue describes a single request validation failure.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// SubscribeRequest is the request body for POST /subscribe.
type SubscribeRequest struct {
	SessionToken         string            `json:"sessionToken"`
	Latitude             float64           `json:"latitude"`
	Longitude            float64           `json:"longitude"`
	NotificationsEnabled bool              `json:"notificationsEnabled"`
	PushSubscription     *PushSubscription `json:"pushSubscription,omitempty"`
}

// Validate enforces the boundary constraints from the API schema.
func (r *SubscribeRequest) Validate() []FieldIssue {
	var issues []FieldIssue
	if r.SessionToken == "" {
		issues = append(issues, FieldIssue{Field: "sessionToken", Message: "must be a non-empty string"})
	}
	issues = append(issues, validateCoordinates(&r.Latitude, &r.Longitude)...)
	if r.PushSubscription != nil {
		if err := r.PushSubscription.Validate(); err != nil {
			issues = append(issues, FieldIssue{Field: "pushSubscription", Message: err.Error()})
		}
	}
	return issues
}

// UpdateSubscriptionRequest is the request body for PUT /subscription/{id}.
// PushSubscription distinguishes absent (field omitted) from explicit null
// (clear the endpoint), so it is kept raw until validated.
type UpdateSubscriptionRequest struct {
	SessionToken         string          `json:"sessionToken"`
	NotificationsEnabled *bool           `json:"notificationsEnabled"`
	Latitude             *float64        `json:"latitude"`
	Longitude            *float64        `json:"longitude"`
	PushSubscription     json.RawMessage `json:"pushSubscription"`
}

// Validate enforces the boundary constraints and resolves the raw push
// subscription field into an update struct.
func (r *UpdateSubscriptionRequest) Validate() (*SubscriptionUpdate, []FieldIssue) {
	var issues []FieldIssue
	if r.SessionToken == "" {
		issues = append(issues, FieldIssue{Field: "sessionToken", Message: "must be a non-empty string"})
	}
	issues = append(issues, validateCoordinates(r.Latitude, r.Longitude)...)

	upd := &SubscriptionUpdate{
		NotificationsEnabled: r.NotificationsEnabled,
		Latitude:             r.Latitude,
		Longitude:            r.Longitude,
	}

	if len(r.PushSubscription) > 0 {
		if string(r.PushSubscription) == "null" {
			upd.ClearPushSubscription = true
		} else {
			var push PushSubscription
			if err := json.Unmarshal(r.PushSubscription, &push); err != nil {
				issues = append(issues, FieldIssue{Field: "pushSubscription", Message: "must be an endpoint descriptor or null"})
			} else if err := push.Validate(); err != nil {
				issues = append(issues, FieldIssue{Field: "pushSubscription", Message: err.Error()})
			} else {
				upd.PushSubscription = &push
			}
		}
	}

	if len(issues) > 0 {
		return nil, issues
	}
	return upd, nil
}

// DeleteSubscriptionRequest is the request body for DELETE /subscription/{id}.
type DeleteSubscriptionRequest struct {
	SessionToken string `json:"sessionToken"`
}

// CheckSubscriptionRequest is the request body for POST /check-subscription.
type CheckSubscriptionRequest struct {
	SessionToken string `json:"sessionToken"`
}

// TestNotificationRequest is the request body for POST /test-notification.
type TestNotificationRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func validateCoordinates(lat, lon *float64) []FieldIssue {
	var issues []FieldIssue
	if lat != nil && (*lat < -90 || *lat > 90) {
		issues = append(issues, FieldIssue{Field: "latitude", Message: "must be between -90 and 90"})
	}
	if lon != nil && (*lon < -180 || *lon > 180) {
		issues = append(issues, FieldIssue{Field: "longitude", Message: "must be between -180 and 180"})
	}
	return issues
}
