package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aircast/internal/httputil"
	"aircast/internal/model"
	"aircast/internal/service"
)

type SubscriptionHandler struct {
	subs *service.SubscriptionService
	push *service.PushService
}

func NewSubscriptionHandler(subs *service.SubscriptionService, push *service.PushService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subs: subs,
		push: push,
	}
}

// Subscribe handles POST /subscribe
// Creates the anonymous identity. No auth: the session token presented here
// becomes the credential for every later mutation.
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req model.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	if issues := req.Validate(); len(issues) > 0 {
		httputil.WriteValidationError(w, issues)
		return
	}

	if !req.NotificationsEnabled {
		httputil.WriteBadRequest(w, "Notifications must be enabled to subscribe")
		return
	}

	id, existing, err := h.subs.Create(r.Context(), &req)
	if err != nil {
		log.Printf("[ERROR] Subscribe: %v", err)
		httputil.WriteInternalError(w, "Internal server error")
		return
	}

	message := "Successfully subscribed to air quality notifications"
	if existing {
		message = "Session already subscribed"
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success":        true,
		"message":        message,
		"subscriptionId": id,
		"vapidPublicKey": h.push.PublicKey(),
	})
}

// Update handles PUT /subscription/{id}
// The session token in the body is verified against the claimed id before
// any field is touched. A failed verify never reveals whether the id exists.
func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req model.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	upd, issues := req.Validate()
	if len(issues) > 0 {
		httputil.WriteValidationError(w, issues)
		return
	}

	if !h.authorize(w, r, id, req.SessionToken) {
		return
	}

	if err := h.subs.Update(r.Context(), id, upd); err != nil {
		log.Printf("[ERROR] Update subscription: id=%s err=%v", id, err)
		httputil.WriteInternalError(w, "Internal server error")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Subscription updated successfully",
	})
}

// Delete handles DELETE /subscription/{id}
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req model.DeleteSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.SessionToken == "" {
		httputil.WriteValidationError(w, []model.FieldIssue{
			{Field: "sessionToken", Message: "must be a non-empty string"},
		})
		return
	}

	if !h.authorize(w, r, id, req.SessionToken) {
		return
	}

	if err := h.subs.Delete(r.Context(), id); err != nil {
		log.Printf("[ERROR] Delete subscription: id=%s err=%v", id, err)
		httputil.WriteInternalError(w, "Internal server error")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Successfully unsubscribed",
	})
}

// List handles GET /subscriptions
// Operational/debug listing of active subscriptions. Token hashes and
// endpoint keys are never serialized.
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.ListActive(r.Context())
	if err != nil {
		log.Printf("[ERROR] List subscriptions: %v", err)
		httputil.WriteInternalError(w, "Internal server error")
		return
	}

	summaries := make([]model.SubscriptionSummary, 0, len(subs))
	for i := range subs {
		summaries = append(summaries, subs[i].Summary())
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"count":         len(summaries),
		"subscriptions": summaries,
	})
}

// CheckSubscription handles POST /check-subscription
// Session bootstrap: the client has a token but no id, which forces the
// O(n) hash scan. The route is rate limited for exactly that reason.
func (h *SubscriptionHandler) CheckSubscription(w http.ResponseWriter, r *http.Request) {
	var req model.CheckSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.SessionToken == "" {
		httputil.WriteValidationError(w, []model.FieldIssue{
			{Field: "sessionToken", Message: "must be a non-empty string"},
		})
		return
	}

	sub, err := h.subs.FindBySessionToken(r.Context(), req.SessionToken)
	if err != nil {
		log.Printf("[ERROR] Check subscription: %v", err)
		httputil.WriteInternalError(w, "Internal server error")
		return
	}

	if sub == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"subscribed": false,
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"subscribed":   true,
		"subscription": sub.Summary(),
	})
}

// VapidKey handles GET /vapid-key
func (h *SubscriptionHandler) VapidKey(w http.ResponseWriter, r *http.Request) {
	key := h.push.PublicKey()
	if key == "" {
		httputil.WriteInternalError(w, "Push notifications are not configured")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"publicKey": key,
	})
}

// TestNotification handles POST /test-notification
// Operational broadcast trigger. Always answers with a count; per-endpoint
// failures never fail the request.
func (h *SubscriptionHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	var req model.TestNotificationRequest
	// Body is optional; both fields have defaults.
	_ = json.NewDecoder(r.Body).Decode(&req)

	title := req.Title
	if title == "" {
		title = "Air Quality Alert"
	}
	body := req.Body
	if body == "" {
		body = "This is a test notification from aircast"
	}

	sent, err := h.push.Broadcast(r.Context(), title, body, service.AlertData{Category: "test"})
	if err != nil {
		log.Printf("[ERROR] Test notification broadcast: %v", err)
		httputil.WriteInternalError(w, "Internal server error")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"sentCount": sent,
	})
}

// TestNotifyByID handles POST /test/notify/{id}
// Operational single-subscription delivery check. Unlike the authenticated
// mutation paths this does a plain lookup, so an unknown id is a 404.
func (h *SubscriptionHandler) TestNotifyByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.subs.GetByID(r.Context(), id)
	if err == model.ErrSubscriptionNotFound {
		httputil.WriteNotFound(w, "Subscription not found")
		return
	}
	if err != nil {
		log.Printf("[ERROR] Test notify: id=%s err=%v", id, err)
		httputil.WriteInternalError(w, "Internal server error")
		return
	}

	title := "Air Quality Alert"
	body := "Air quality is unhealthy in your area. AQI: 165"
	alert := service.AlertData{
		Category: "unhealthy",
		Extra: map[string]interface{}{
			"airQuality": map[string]interface{}{"aqi": 165, "category": "unhealthy"},
		},
	}

	sent := false
	if sub.HasPushSubscription() {
		sent = h.push.SendToSubscription(r.Context(), sub, title, body, alert)
	} else {
		log.Printf("[TestNotify] Subscription %s has no push endpoint", sub.ID)
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      "Test notification triggered",
		"subscription": sub.Summary(),
		"notification": map[string]interface{}{
			"title":    title,
			"body":     body,
			"category": alert.Category,
			"sent":     sent,
		},
	})
}

// authorize verifies the session token against the claimed id and writes a
// 401 on failure. Unknown id and wrong token answer identically.
func (h *SubscriptionHandler) authorize(w http.ResponseWriter, r *http.Request, id, token string) bool {
	ok, err := h.subs.VerifyToken(r.Context(), id, token)
	if err != nil {
		log.Printf("[ERROR] Verify token: id=%s err=%v", id, err)
		httputil.WriteInternalError(w, "Internal server error")
		return false
	}
	if !ok {
		httputil.WriteUnauthorized(w, "Invalid session token")
		return false
	}
	return true
}
