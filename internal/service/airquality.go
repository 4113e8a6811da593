package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultOpenAQBaseURL = "https://api.openaq.org/v3"

	// listCacheTTL / locationCacheTTL time-box proxied responses so repeated
	// map searches do not hammer the upstream.
	listCacheTTL     = 60 * time.Second
	locationCacheTTL = 5 * time.Minute

	airCachePrefix = "air:"

	// searchMaxPages caps server-side q filtering to avoid excessive
	// upstream calls for broad queries.
	searchMaxPages = 5
)

// ErrUpstreamUnauthorized means the configured OpenAQ API key was rejected.
var ErrUpstreamUnauthorized = errors.New("openaq rejected the configured API key")

// allowedSearchParams are the only query params forwarded upstream; the
// cache key is derived from the same set so keys stay stable.
var allowedSearchParams = []string{
	"q", "page", "limit", "country", "city", "coordinates",
	"radius", "sort", "order_by", "parameter", "name", "location",
}

// AirQualityService proxies OpenAQ location lookups for the browser with a
// time-boxed Redis cache. It is a boundary collaborator: the subscription
// core never depends on it, and it may run without Redis (cache disabled).
type AirQualityService struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      *goredis.Client // nil disables caching
}

func NewAirQualityService(apiKey string, cache *goredis.Client) *AirQualityService {
	return &AirQualityService{
		apiKey:     apiKey,
		baseURL:    defaultOpenAQBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cache:      cache,
	}
}

// Configured reports whether an upstream API key is present.
func (s *AirQualityService) Configured() bool {
	return s.apiKey != ""
}

// SearchLocations proxies GET /locations, forwarding only the allowed
// params. When q is present, results are filtered server-side across up to
// searchMaxPages pages, because the upstream has no substring search.
func (s *AirQualityService) SearchLocations(ctx context.Context, query url.Values) ([]byte, error) {
	params := url.Values{}
	for _, p := range allowedSearchParams {
		if v := query.Get(p); v != "" {
			params.Set(p, v)
		}
	}
	if params.Get("limit") == "" {
		params.Set("limit", "10")
	}

	cacheKey := airCachePrefix + "locations:" + params.Encode()
	if body, ok := s.cacheGet(ctx, cacheKey); ok {
		return body, nil
	}

	q := strings.TrimSpace(params.Get("q"))
	var body []byte
	var err error
	if q != "" {
		body, err = s.searchFiltered(ctx, params, q)
	} else {
		body, err = s.fetch(ctx, "/locations?"+params.Encode())
	}
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, cacheKey, body, listCacheTTL)
	return body, nil
}

// GetLocation proxies GET /locations/{id}.
func (s *AirQualityService) GetLocation(ctx context.Context, id string) ([]byte, error) {
	cacheKey := airCachePrefix + "location:" + id
	if body, ok := s.cacheGet(ctx, cacheKey); ok {
		return body, nil
	}

	body, err := s.fetch(ctx, "/locations/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, cacheKey, body, locationCacheTTL)
	return body, nil
}

// searchFiltered walks result pages and keeps locations whose name, locality
// or country contains q.
func (s *AirQualityService) searchFiltered(ctx context.Context, params url.Values, q string) ([]byte, error) {
	needle := strings.ToLower(q)
	params.Del("q")

	matches := make([]json.RawMessage, 0)
	perPage, err := strconv.Atoi(params.Get("limit"))
	if err != nil || perPage <= 0 {
		perPage = 10
	}

	for page := 1; page <= searchMaxPages; page++ {
		params.Set("page", fmt.Sprint(page))
		body, err := s.fetch(ctx, "/locations?"+params.Encode())
		if err != nil {
			return nil, err
		}

		var parsed struct {
			Results []json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decode openaq response: %w", err)
		}

		for _, raw := range parsed.Results {
			var meta struct {
				Name     string `json:"name"`
				Locality string `json:"locality"`
				Country  struct {
					Name string `json:"name"`
					Code string `json:"code"`
				} `json:"country"`
			}
			if err := json.Unmarshal(raw, &meta); err != nil {
				continue
			}
			hay := strings.ToLower(strings.Join([]string{
				meta.Name, meta.Locality, meta.Country.Name, meta.Country.Code,
			}, " "))
			if strings.Contains(hay, needle) {
				matches = append(matches, raw)
			}
		}

		// Fewer results than requested means the last page.
		if len(parsed.Results) < perPage {
			break
		}
	}

	return json.Marshal(map[string]interface{}{"results": matches})
}

// fetch performs one upstream GET with bounded retries. Auth rejections and
// other 4xx responses are unrecoverable; network errors and 5xx retry.
func (s *AirQualityService) fetch(ctx context.Context, path string) ([]byte, error) {
	var body []byte

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Accept", "application/json")
			if s.apiKey != "" {
				req.Header.Set("X-API-Key", s.apiKey)
			}

			resp, err := s.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("openaq request: %w", err)
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusUnauthorized:
				return retry.Unrecoverable(ErrUpstreamUnauthorized)
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				return retry.Unrecoverable(fmt.Errorf("openaq returned status %d", resp.StatusCode))
			case resp.StatusCode != http.StatusOK:
				return fmt.Errorf("openaq returned status %d", resp.StatusCode)
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read openaq response: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[AirQuality] Retrying upstream fetch after error (attempt %d): %v", n, err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// cacheGet / cacheSet are best-effort: Redis being down degrades to
// uncached proxying, never to request failure.
func (s *AirQualityService) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	body, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			log.Printf("[AirQuality] Cache read failed: %v", err)
		}
		return nil, false
	}
	return body, true
}

func (s *AirQualityService) cacheSet(ctx context.Context, key string, body []byte, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, body, ttl).Err(); err != nil {
		log.Printf("[AirQuality] Cache write failed: %v", err)
	}
}
