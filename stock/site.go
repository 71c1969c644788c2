package stock

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/atmosphericc/stockwatch/config"
	"github.com/atmosphericc/stockwatch/models"
	"github.com/atmosphericc/stockwatch/parser"
	"github.com/gocolly/colly/v2"
)

// SiteSource checks availability by fetching product pages and looking for
// the add-to-cart button and out-of-stock markers. It is the fallback for
// deployments where the product API is blocked.
type SiteSource struct {
	cfg       *config.Config
	collector *colly.Collector
	Metrics   *Metrics

	mu      sync.Mutex
	results map[string]models.StockResult

	handlersOnce sync.Once
}

// NewSiteSource builds a page-scraping source configured from cfg.
func NewSiteSource(cfg *config.Config) (*SiteSource, error) {
	parsed, err := url.Parse(cfg.SiteBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse site base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("site base url must include a host")
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &SiteSource{
		cfg:       cfg,
		collector: collector,
		Metrics:   NewMetrics(),
	}, nil
}

// WithTransport replaces the collector transport. Tests use it to install a
// mock transport.
func (s *SiteSource) WithTransport(rt http.RoundTripper) {
	s.collector.WithTransport(rt)
}

// Check visits every configured TCIN's product page and returns the
// availability map. Pages that fail to load are omitted from the map.
func (s *SiteSource) Check(ctx context.Context) (map[string]models.StockResult, error) {
	s.configureHandlers()

	s.mu.Lock()
	s.results = make(map[string]models.StockResult, len(s.cfg.TCINs))
	s.mu.Unlock()

	for _, tcin := range s.cfg.TCINs {
		if ctx.Err() != nil {
			break
		}
		s.Metrics.IncRequest("started")
		pageURL := fmt.Sprintf("%s/p/-/A-%s", strings.TrimSuffix(s.cfg.SiteBaseURL, "/"), tcin)
		cctx := colly.NewContext()
		cctx.Put("tcin", tcin)
		cctx.Put("start", time.Now())
		if err := s.collector.Request(http.MethodGet, pageURL, nil, cctx, nil); err != nil {
			s.Metrics.IncError(errorTypeLabel(classifyError(err, 0)))
		}
	}

	s.collector.Wait()
	s.Metrics.IncCheck()

	s.mu.Lock()
	results := s.results
	s.results = nil
	s.mu.Unlock()

	inStock := 0
	for _, r := range results {
		if r.Available {
			inStock++
		}
	}
	s.Metrics.SetInStock(inStock)

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (s *SiteSource) configureHandlers() {
	s.handlersOnce.Do(func() {
		s.collector.OnResponse(func(r *colly.Response) {
			if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
				s.Metrics.ObserveDuration(time.Since(start))
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			statusCode := 0
			if r != nil {
				statusCode = r.StatusCode
			}
			s.Metrics.IncError(errorTypeLabel(classifyError(err, statusCode)))
		})

		s.collector.OnHTML("html", func(e *colly.HTMLElement) {
			tcin := e.Request.Ctx.Get("tcin")
			if tcin == "" {
				return
			}

			title := parser.NormalizeTitle(e.ChildAttr(`meta[property="og:title"]`, "content"))
			if title == "" {
				title = parser.NormalizeTitle(e.ChildText("h1"))
			}

			result := models.StockResult{
				TCIN:      tcin,
				Title:     title,
				Available: pageAvailable(e),
				CheckedAt: time.Now(),
			}

			s.mu.Lock()
			if s.results != nil {
				s.results[tcin] = result
			}
			s.mu.Unlock()
		})
	})
}

// pageAvailable applies the same markers a shopper sees: an enabled
// add-to-cart or shipping button means available, an explicit out-of-stock
// banner means not.
func pageAvailable(e *colly.HTMLElement) bool {
	for _, selector := range []string{
		`button[data-test="shippingButton"]`,
		`button[data-test="addToCartButton"]`,
		`button[data-test="orderPickupButton"]`,
	} {
		text := strings.ToLower(e.ChildText(selector))
		if text == "" {
			continue
		}
		if e.ChildAttr(selector, "disabled") != "" {
			continue
		}
		if strings.Contains(text, "add to cart") ||
			strings.Contains(text, "ship it") ||
			strings.Contains(text, "pick it up") ||
			strings.Contains(text, "preorder") {
			return true
		}
	}

	return false
}
