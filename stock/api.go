package stock

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/atmosphericc/stockwatch/config"
	"github.com/atmosphericc/stockwatch/models"
	"github.com/atmosphericc/stockwatch/parser"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// APISource checks availability through the redsky product API with bounded
// parallelism and a short-TTL response cache to keep poll bursts off the
// upstream.
type APISource struct {
	cfg     *config.Config
	client  *http.Client
	cache   *expirable.LRU[string, models.StockResult]
	Metrics *Metrics

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAPISource builds an API-backed source configured from cfg.
func NewAPISource(cfg *config.Config) (*APISource, error) {
	parsed, err := url.Parse(cfg.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("api base url must include a host")
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	return &APISource{
		cfg:     cfg,
		client:  client,
		cache:   expirable.NewLRU[string, models.StockResult](cfg.CacheSize, nil, cfg.CacheTTL),
		Metrics: NewMetrics(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// SetClient replaces the HTTP client. Tests use it to install a mock
// transport.
func (s *APISource) SetClient(client *http.Client) {
	s.client = client
}

// Check polls every configured TCIN and returns the availability map. A
// failed TCIN is omitted from the map rather than reported unavailable;
// rate limiting aborts the rest of the pass.
func (s *APISource) Check(ctx context.Context) (map[string]models.StockResult, error) {
	results := make(map[string]models.StockResult, len(s.cfg.TCINs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var rateLimited bool

	sem := make(chan struct{}, s.cfg.Parallelism)
	inStock := 0

	for _, tcin := range s.cfg.TCINs {
		if cached, ok := s.cache.Get(tcin); ok {
			s.Metrics.IncCacheHit()
			mu.Lock()
			results[tcin] = cached
			if cached.Available {
				inStock++
			}
			mu.Unlock()
			continue
		}

		mu.Lock()
		stop := rateLimited
		mu.Unlock()
		if stop || ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(tcin string) {
			defer wg.Done()
			defer func() { <-sem }()

			s.jitter(ctx)

			result, err := s.checkOne(ctx, tcin)
			if err != nil {
				classified := classifyError(err, 0)
				label := errorTypeLabel(classified)
				s.Metrics.IncError(label)
				slog.Error("stock check failed",
					slog.String("tcin", tcin),
					slog.String("category", label),
					slog.Any("error", err),
				)
				if label == "rate_limited" {
					mu.Lock()
					rateLimited = true
					mu.Unlock()
				}
				return
			}

			s.cache.Add(tcin, result)
			mu.Lock()
			results[tcin] = result
			if result.Available {
				inStock++
			}
			mu.Unlock()
		}(tcin)
	}

	wg.Wait()
	s.Metrics.IncCheck()
	s.Metrics.SetInStock(inStock)

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (s *APISource) checkOne(ctx context.Context, tcin string) (models.StockResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.APIBaseURL, nil)
	if err != nil {
		return models.StockResult{}, fmt.Errorf("build request: %w", err)
	}

	q := req.URL.Query()
	q.Set("key", s.cfg.APIKey)
	q.Set("tcin", tcin)
	q.Set("store_id", s.cfg.StoreID)
	q.Set("pricing_store_id", s.cfg.StoreID)
	q.Set("has_pricing_store_id", "true")
	q.Set("has_financing_options", "true")
	q.Set("visitor_id", visitorID())
	q.Set("has_size_context", "true")
	req.URL.RawQuery = q.Encode()

	for key, value := range s.headers() {
		req.Header.Set(key, value)
	}

	s.Metrics.IncRequest("started")
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return models.StockResult{}, classifyError(err, 0)
	}
	defer resp.Body.Close()
	s.Metrics.ObserveDuration(time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return models.StockResult{}, classifyError(nil, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return models.StockResult{}, fmt.Errorf("read response: %w", err)
	}

	return parser.ParseProductResponse(tcin, body, time.Now())
}

// headers returns a randomized browser-like header set.
func (s *APISource) headers() map[string]string {
	s.mu.Lock()
	chrome := 120 + s.rng.Intn(6)
	s.mu.Unlock()

	userAgent := s.cfg.UserAgent
	if userAgent == "" {
		userAgent = fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36", chrome)
	}

	return map[string]string{
		"accept":          "application/json",
		"accept-language": "en-US,en;q=0.9",
		"origin":          "https://www.target.com",
		"user-agent":      userAgent,
		"sec-ch-ua":       fmt.Sprintf(`"Google Chrome";v="%d", "Chromium";v="%d", "Not?A_Brand";v="24"`, chrome, chrome),
		"sec-fetch-site":  "same-site",
		"sec-fetch-mode":  "cors",
	}
}

// jitter sleeps for the configured delay plus random spread, bailing early
// on context cancellation.
func (s *APISource) jitter(ctx context.Context) {
	delay := s.cfg.Delay
	if s.cfg.RandomDelay > 0 {
		s.mu.Lock()
		delay += time.Duration(s.rng.Int63n(int64(s.cfg.RandomDelay)))
		s.mu.Unlock()
	}
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// visitorID returns a fresh 32-hex-character visitor token per request.
func visitorID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
