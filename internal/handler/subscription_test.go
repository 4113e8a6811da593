package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"aircast/internal/model"
	"aircast/internal/service"
)

type mockSubscriptionRepo struct {
	createFn     func(ctx context.Context, tokenHash string, lat, lon float64, enabled bool, push *model.PushSubscription) (string, error)
	getByIDFn    func(ctx context.Context, id string) (*model.Subscription, error)
	listAllFn    func(ctx context.Context) ([]model.Subscription, error)
	listActiveFn func(ctx context.Context) ([]model.Subscription, error)
	updateFn     func(ctx context.Context, id string, upd *model.SubscriptionUpdate) error
	deleteFn     func(ctx context.Context, id string) error

	updateCalls []model.SubscriptionUpdate
	deleteCalls []string
}

func (m *mockSubscriptionRepo) Create(ctx context.Context, tokenHash string, lat, lon float64, enabled bool, push *model.PushSubscription) (string, error) {
	if m.createFn != nil {
		return m.createFn(ctx, tokenHash, lat, lon, enabled, push)
	}
	return "00000000-0000-0000-0000-000000000001", nil
}

func (m *mockSubscriptionRepo) GetByID(ctx context.Context, id string) (*model.Subscription, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, model.ErrSubscriptionNotFound
}

func (m *mockSubscriptionRepo) ListAll(ctx context.Context) ([]model.Subscription, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

func (m *mockSubscriptionRepo) ListActive(ctx context.Context) ([]model.Subscription, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockSubscriptionRepo) Update(ctx context.Context, id string, upd *model.SubscriptionUpdate) error {
	m.updateCalls = append(m.updateCalls, *upd)
	if m.updateFn != nil {
		return m.updateFn(ctx, id, upd)
	}
	return nil
}

func (m *mockSubscriptionRepo) Delete(ctx context.Context, id string) error {
	m.deleteCalls = append(m.deleteCalls, id)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockSubscriptionRepo) MarkNotified(ctx context.Context, id string) error { return nil }

func (m *mockSubscriptionRepo) ClearPushByEndpoint(ctx context.Context, endpoint string) error {
	return nil
}

const knownID = "11111111-1111-4111-8111-111111111111"

func newTestHandler(t *testing.T, repo *mockSubscriptionRepo) *SubscriptionHandler {
	t.Helper()
	hasher := service.NewTokenHasher(bcrypt.MinCost)
	subs := service.NewSubscriptionService(repo, hasher)
	push, err := service.NewPushService(repo, service.PushConfig{
		VAPIDPublicKey:  "test-public-key",
		VAPIDPrivateKey: "test-private-key",
	})
	require.NoError(t, err)
	return NewSubscriptionHandler(subs, push)
}

func newTestRouter(h *SubscriptionHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/subscribe", h.Subscribe)
	r.Put("/subscription/{id}", h.Update)
	r.Delete("/subscription/{id}", h.Delete)
	r.Get("/subscriptions", h.List)
	r.Post("/check-subscription", h.CheckSubscription)
	r.Get("/vapid-key", h.VapidKey)
	r.Post("/test-notification", h.TestNotification)
	r.Post("/test/notify/{id}", h.TestNotifyByID)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

// storedSubscription builds the record the mock repo hands back for knownID,
// with session_token_hash derived from the given plain token.
func storedSubscription(t *testing.T, token string) *model.Subscription {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return &model.Subscription{
		ID:                   knownID,
		SessionTokenHash:     string(hash),
		Latitude:             40.0,
		Longitude:            -75.0,
		NotificationsEnabled: true,
	}
}

func TestSubscribe_CreatesSubscription(t *testing.T) {
	repo := &mockSubscriptionRepo{}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPost, "/subscribe", map[string]interface{}{
		"sessionToken":         "session-token-abc",
		"latitude":             40.0,
		"longitude":            -75.0,
		"notificationsEnabled": true,
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", resp["subscriptionId"])
	assert.Equal(t, "test-public-key", resp["vapidPublicKey"])
}

func TestSubscribe_ReusesExistingSession(t *testing.T) {
	existing := storedSubscription(t, "session-token-abc")
	repo := &mockSubscriptionRepo{
		listAllFn: func(ctx context.Context) ([]model.Subscription, error) {
			return []model.Subscription{*existing}, nil
		},
		createFn: func(ctx context.Context, tokenHash string, lat, lon float64, enabled bool, push *model.PushSubscription) (string, error) {
			t.Fatal("create must not be called for an already subscribed session")
			return "", nil
		},
	}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPost, "/subscribe", map[string]interface{}{
		"sessionToken":         "session-token-abc",
		"latitude":             40.0,
		"longitude":            -75.0,
		"notificationsEnabled": true,
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Session already subscribed", resp["message"])
	assert.Equal(t, knownID, resp["subscriptionId"])
}

func TestSubscribe_ValidationErrors(t *testing.T) {
	repo := &mockSubscriptionRepo{}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPost, "/subscribe", map[string]interface{}{
		"latitude":             120.0,
		"longitude":            -75.0,
		"notificationsEnabled": true,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Invalid request data", resp["message"])
	issues, ok := resp["errors"].([]interface{})
	require.True(t, ok)
	assert.Len(t, issues, 2) // missing sessionToken and out-of-range latitude
}

func TestSubscribe_RejectsDisabledNotifications(t *testing.T) {
	repo := &mockSubscriptionRepo{}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPost, "/subscribe", map[string]interface{}{
		"sessionToken":         "session-token-abc",
		"latitude":             40.0,
		"longitude":            -75.0,
		"notificationsEnabled": false,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Notifications must be enabled to subscribe", resp["message"])
}

func TestUpdate_WrongTokenIsUnauthorized(t *testing.T) {
	repo := &mockSubscriptionRepo{
		getByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return storedSubscription(t, "session-token-abc"), nil
		},
	}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPut, "/subscription/"+knownID, map[string]interface{}{
		"sessionToken":         "wrong-token",
		"notificationsEnabled": false,
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid session token", resp["message"])
	assert.Empty(t, repo.updateCalls)
}

func TestUpdate_UnknownIDAnswersLikeWrongToken(t *testing.T) {
	repo := &mockSubscriptionRepo{}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPut, "/subscription/"+knownID, map[string]interface{}{
		"sessionToken":         "session-token-abc",
		"notificationsEnabled": false,
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid session token", resp["message"])
}

func TestUpdate_AppliesOnlyProvidedFields(t *testing.T) {
	repo := &mockSubscriptionRepo{
		getByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return storedSubscription(t, "session-token-abc"), nil
		},
	}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPut, "/subscription/"+knownID, map[string]interface{}{
		"sessionToken": "session-token-abc",
		"latitude":     41.5,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp["success"])
	require.Len(t, repo.updateCalls, 1)
	upd := repo.updateCalls[0]
	require.NotNil(t, upd.Latitude)
	assert.Equal(t, 41.5, *upd.Latitude)
	assert.Nil(t, upd.Longitude)
	assert.Nil(t, upd.NotificationsEnabled)
	assert.False(t, upd.ClearPushSubscription)
}

func TestUpdate_NullPushSubscriptionClears(t *testing.T) {
	repo := &mockSubscriptionRepo{
		getByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return storedSubscription(t, "session-token-abc"), nil
		},
	}
	router := newTestRouter(newTestHandler(t, repo))

	rec, _ := doJSON(t, router, http.MethodPut, "/subscription/"+knownID, map[string]interface{}{
		"sessionToken":     "session-token-abc",
		"pushSubscription": nil,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, repo.updateCalls, 1)
	assert.True(t, repo.updateCalls[0].ClearPushSubscription)
}

func TestUpdate_InvalidCoordinatesRejected(t *testing.T) {
	repo := &mockSubscriptionRepo{}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPut, "/subscription/"+knownID, map[string]interface{}{
		"sessionToken": "session-token-abc",
		"longitude":    200.0,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request data", resp["message"])
	assert.Empty(t, repo.updateCalls)
}

func TestDelete_RemovesSubscription(t *testing.T) {
	repo := &mockSubscriptionRepo{
		getByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return storedSubscription(t, "session-token-abc"), nil
		},
	}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodDelete, "/subscription/"+knownID, map[string]interface{}{
		"sessionToken": "session-token-abc",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Successfully unsubscribed", resp["message"])
	assert.Equal(t, []string{knownID}, repo.deleteCalls)
}

func TestDelete_WrongTokenIsUnauthorized(t *testing.T) {
	repo := &mockSubscriptionRepo{
		getByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return storedSubscription(t, "session-token-abc"), nil
		},
	}
	router := newTestRouter(newTestHandler(t, repo))

	rec, _ := doJSON(t, router, http.MethodDelete, "/subscription/"+knownID, map[string]interface{}{
		"sessionToken": "wrong-token",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, repo.deleteCalls)
}

func TestList_ReturnsSummariesWithoutSecrets(t *testing.T) {
	sub := storedSubscription(t, "session-token-abc")
	repo := &mockSubscriptionRepo{
		listActiveFn: func(ctx context.Context) ([]model.Subscription, error) {
			return []model.Subscription{*sub}, nil
		},
	}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodGet, "/subscriptions", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), resp["count"])
	assert.NotContains(t, rec.Body.String(), "session_token_hash")
	assert.NotContains(t, rec.Body.String(), sub.SessionTokenHash)
}

func TestCheckSubscription_Found(t *testing.T) {
	sub := storedSubscription(t, "session-token-abc")
	repo := &mockSubscriptionRepo{
		listAllFn: func(ctx context.Context) ([]model.Subscription, error) {
			return []model.Subscription{*sub}, nil
		},
	}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPost, "/check-subscription", map[string]interface{}{
		"sessionToken": "session-token-abc",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp["subscribed"])
	summary, ok := resp["subscription"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, knownID, summary["id"])
}

func TestCheckSubscription_NotFound(t *testing.T) {
	repo := &mockSubscriptionRepo{}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPost, "/check-subscription", map[string]interface{}{
		"sessionToken": "never-seen-token",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, resp["subscribed"])
	assert.NotContains(t, resp, "subscription")
}

func TestCheckSubscription_EmptyTokenRejected(t *testing.T) {
	repo := &mockSubscriptionRepo{}
	router := newTestRouter(newTestHandler(t, repo))

	rec, _ := doJSON(t, router, http.MethodPost, "/check-subscription", map[string]interface{}{
		"sessionToken": "",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVapidKey(t *testing.T) {
	repo := &mockSubscriptionRepo{}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodGet, "/vapid-key", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test-public-key", resp["publicKey"])
}

func TestTestNotification_NoSubscribers(t *testing.T) {
	repo := &mockSubscriptionRepo{}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPost, "/test-notification", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(0), resp["sentCount"])
}

func TestTestNotifyByID_UnknownID(t *testing.T) {
	repo := &mockSubscriptionRepo{}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPost, "/test/notify/"+knownID, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Subscription not found", resp["message"])
}

func TestTestNotifyByID_NoPushEndpoint(t *testing.T) {
	repo := &mockSubscriptionRepo{
		getByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return storedSubscription(t, "session-token-abc"), nil
		},
	}
	router := newTestRouter(newTestHandler(t, repo))

	rec, resp := doJSON(t, router, http.MethodPost, "/test/notify/"+knownID, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	notification, ok := resp["notification"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, notification["sent"])
}
