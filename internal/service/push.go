package service

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"aircast/internal/model"
	"aircast/internal/repository"
)

const (
	// DefaultBroadcastWorkers bounds the broadcast fan-out so one large
	// subscriber list cannot spawn an unbounded number of goroutines.
	DefaultBroadcastWorkers = 8

	// DefaultPushTimeout bounds a single delivery so a hung endpoint cannot
	// stall the aggregate broadcast.
	DefaultPushTimeout = 10 * time.Second

	// pushTTLSeconds is how long the push service may hold an undelivered
	// message for an offline browser.
	pushTTLSeconds = 60 * 60 * 24
)

// PushConfig configures the web push transport. The VAPID pair is validated
// at construction, during process startup, rather than on the first send.
type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string // contact address sent to the push service
	Workers         int
	Timeout         time.Duration
}

// AlertData is the correlation metadata attached to every notification so
// the receiving client can deep-link. Category is the severity indicator
// (e.g. "unhealthy"); Extra carries caller-supplied fields such as the air
// quality reading.
type AlertData struct {
	Category string
	Extra    map[string]interface{}
}

// sendFunc matches webpush.SendNotificationWithContext. Swappable in tests.
type sendFunc func(ctx context.Context, message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

// PushService sends web push messages to browser endpoints and fans a single
// alert out to every active, push-capable subscription. Per-endpoint
// failures are contained: they are logged and counted, never propagated.
type PushService struct {
	repo       repository.SubscriptionRepository
	cfg        PushConfig
	httpClient *http.Client
	send       sendFunc
}

func NewPushService(repo repository.SubscriptionRepository, cfg PushConfig) (*PushService, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, model.ErrVAPIDNotConfigured
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultBroadcastWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPushTimeout
	}
	if cfg.Subscriber == "" {
		cfg.Subscriber = "admin@example.com"
	}

	return &PushService{
		repo:       repo,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		send:       webpush.SendNotificationWithContext,
	}, nil
}

// PublicKey returns the VAPID public key clients subscribe with.
func (s *PushService) PublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// pushPayload is the fixed envelope the service worker expects.
type pushPayload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Icon  string                 `json:"icon"`
	Badge string                 `json:"badge"`
	Data  map[string]interface{} `json:"data"`
}

// Send delivers one message to one endpoint. Returns true only on a push
// service acknowledgment. A "gone"/"not found" response triggers self-heal:
// the stored descriptor for that endpoint is cleared so future broadcasts
// skip it. All other failures are logged and not retried here; retry policy
// belongs to the caller.
func (s *PushService) Send(ctx context.Context, push *model.PushSubscription, subscriptionID, title, body string, alert AlertData) bool {
	payload, err := json.Marshal(pushPayload{
		Title: title,
		Body:  body,
		Icon:  "/favicon.ico",
		Badge: "/favicon.ico",
		Data:  s.metadata(subscriptionID, alert),
	})
	if err != nil {
		log.Printf("[Push] Failed to encode payload for %s: %v", subscriptionID, err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.send(ctx, payload, &webpush.Subscription{
		Endpoint: push.Endpoint,
		Keys: webpush.Keys{
			P256dh: push.Keys.P256dh,
			Auth:   push.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             pushTTLSeconds,
	})
	if err != nil {
		log.Printf("[Push] Delivery to %s failed: %v", subscriptionID, err)
		return false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		log.Printf("[Push] Endpoint for %s is gone (status %d), clearing", subscriptionID, resp.StatusCode)
		s.selfHeal(ctx, push.Endpoint)
		return false
	default:
		log.Printf("[Push] Delivery to %s returned status %d", subscriptionID, resp.StatusCode)
		return false
	}
}

// selfHeal clears a permanently dead endpoint. Best-effort: a store failure
// here only means the endpoint is retried on the next broadcast.
func (s *PushService) selfHeal(ctx context.Context, endpoint string) {
	// The request context may already be cancelled or timed out; the cleanup
	// write should still land.
	healCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.repo.ClearPushByEndpoint(healCtx, endpoint); err != nil {
		log.Printf("[Push] Self-heal failed for endpoint: %v", err)
	}
}

// SendToSubscription delivers one message to a subscription record.
// Records without a push endpoint are non-deliverable, not failures.
// Successful deliveries stamp last_notification_sent best-effort.
func (s *PushService) SendToSubscription(ctx context.Context, sub *model.Subscription, title, body string, alert AlertData) bool {
	push, err := sub.DecodePushSubscription()
	if err != nil {
		log.Printf("[Push] %v", err)
		return false
	}
	if push == nil {
		log.Printf("[Push] Subscription %s has no push endpoint, skipping", sub.ID)
		return false
	}

	delivered := s.Send(ctx, push, sub.ID, title, body, alert)
	if delivered {
		if err := s.repo.MarkNotified(ctx, sub.ID); err != nil {
			log.Printf("[Push] Failed to mark %s notified: %v", sub.ID, err)
		}
	}
	return delivered
}

// Broadcast fans one alert out to every active subscription with a push
// endpoint, using a bounded worker pool, and returns the number of
// deliveries the push service acknowledged. Partial failure is normal: the
// broadcast always settles every attempt and never fails as a unit. Zero
// active subscribers is deliveredCount = 0, not an error.
func (s *PushService) Broadcast(ctx context.Context, title, body string, alert AlertData) (int, error) {
	subs, err := s.repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	targets := make([]model.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.HasPushSubscription() {
			targets = append(targets, sub)
		} else {
			log.Printf("[Push] Subscription %s has no push endpoint, excluded from broadcast", sub.ID)
		}
	}

	log.Printf("[Push] Broadcasting to %d of %d active subscriptions", len(targets), len(subs))
	if len(targets) == 0 {
		return 0, nil
	}

	workers := s.cfg.Workers
	if workers > len(targets) {
		workers = len(targets)
	}

	jobs := make(chan *model.Subscription)
	var delivered atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				if s.SendToSubscription(ctx, sub, title, body, alert) {
					delivered.Add(1)
				}
			}
		}()
	}

	for i := range targets {
		jobs <- &targets[i]
	}
	close(jobs)
	wg.Wait()

	log.Printf("[Push] Broadcast complete: %d/%d delivered", delivered.Load(), len(targets))
	return int(delivered.Load()), nil
}

// metadata builds the data block every notification carries: the
// subscription id, a severity category and an ISO timestamp, merged with
// any caller-supplied fields.
func (s *PushService) metadata(subscriptionID string, alert AlertData) map[string]interface{} {
	category := alert.Category
	if category == "" {
		category = "info"
	}

	data := map[string]interface{}{
		"url":            "/",
		"subscriptionId": subscriptionID,
		"category":       category,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range alert.Extra {
		data[k] = v
	}
	return data
}
