package stock

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/atmosphericc/stockwatch/config"
	"github.com/jarcoal/httpmock"
)

func apiTestConfig(tcins ...string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.TCINs = tcins
	cfg.Delay = 0
	cfg.RandomDelay = 0
	cfg.Parallelism = 1
	return cfg
}

func newTestAPISource(t *testing.T, cfg *config.Config) (*APISource, *httpmock.MockTransport) {
	t.Helper()
	src, err := NewAPISource(cfg)
	if err != nil {
		t.Fatal(err)
	}
	transport := httpmock.NewMockTransport()
	src.SetClient(&http.Client{Transport: transport})
	return src, transport
}

func productBody(title string, shipToGuest bool, purchaseLimit int) string {
	return fmt.Sprintf(`{
		"data": {
			"product": {
				"price": {"current_retail": 59.99},
				"item": {
					"product_description": {"title": %q},
					"fulfillment": {
						"is_marketplace": false,
						"purchase_limit": %d,
						"shipping_options": {"availability_status": "IN_STOCK"}
					},
					"eligibility_rules": {"ship_to_guest": {"is_active": %t}}
				}
			}
		}
	}`, title, purchaseLimit, shipToGuest)
}

func TestAPICheckParsesAvailability(t *testing.T) {
	cfg := apiTestConfig("89542109")
	src, transport := newTestAPISource(t, cfg)
	transport.RegisterResponder(http.MethodGet, cfg.APIBaseURL,
		httpmock.NewStringResponder(http.StatusOK, productBody("Pokemon Bundle", true, 3)))

	results, err := src.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := results["89542109"]
	if !ok {
		t.Fatal("missing result for 89542109")
	}
	if !got.Available {
		t.Error("expected item available")
	}
	if got.Title != "Pokemon Bundle" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Price != 59.99 {
		t.Errorf("price = %v", got.Price)
	}
}

func TestAPICheckOmitsFailedTCIN(t *testing.T) {
	cfg := apiTestConfig("89542109", "11111111")
	src, transport := newTestAPISource(t, cfg)
	transport.RegisterResponder(http.MethodGet, cfg.APIBaseURL,
		func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("tcin") == "11111111" {
				return httpmock.NewStringResponse(http.StatusNotFound, "{}"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, productBody("Pokemon Bundle", true, 3)), nil
		})

	results, err := src.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := results["89542109"]; !ok {
		t.Error("healthy TCIN missing from results")
	}
	if _, ok := results["11111111"]; ok {
		t.Error("failed TCIN should be omitted, not reported unavailable")
	}
}

func TestAPICheckRateLimitAbortsPass(t *testing.T) {
	cfg := apiTestConfig("1", "2", "3")
	src, transport := newTestAPISource(t, cfg)
	transport.RegisterResponder(http.MethodGet, cfg.APIBaseURL,
		httpmock.NewStringResponder(http.StatusTooManyRequests, ""))

	results, err := src.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %v", results)
	}
	if calls := transport.GetTotalCallCount(); calls >= 3 {
		t.Errorf("expected pass to abort early, but all %d TCINs were requested", calls)
	}
}

func TestAPICheckUsesCacheWithinTTL(t *testing.T) {
	cfg := apiTestConfig("89542109")
	cfg.CacheTTL = time.Minute
	src, transport := newTestAPISource(t, cfg)
	transport.RegisterResponder(http.MethodGet, cfg.APIBaseURL,
		httpmock.NewStringResponder(http.StatusOK, productBody("Pokemon Bundle", true, 3)))

	if _, err := src.Check(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Check(context.Background()); err != nil {
		t.Fatal(err)
	}

	if calls := transport.GetTotalCallCount(); calls != 1 {
		t.Errorf("expected 1 upstream request, got %d", calls)
	}
}

func TestAPICheckRequestShape(t *testing.T) {
	cfg := apiTestConfig("89542109")
	src, transport := newTestAPISource(t, cfg)

	var captured *http.Request
	transport.RegisterResponder(http.MethodGet, cfg.APIBaseURL,
		func(req *http.Request) (*http.Response, error) {
			captured = req
			return httpmock.NewStringResponse(http.StatusOK, productBody("Pokemon Bundle", true, 3)), nil
		})

	if _, err := src.Check(context.Background()); err != nil {
		t.Fatal(err)
	}
	if captured == nil {
		t.Fatal("no request captured")
	}

	q := captured.URL.Query()
	if q.Get("key") != cfg.APIKey {
		t.Errorf("key = %q", q.Get("key"))
	}
	if q.Get("tcin") != "89542109" {
		t.Errorf("tcin = %q", q.Get("tcin"))
	}
	if q.Get("store_id") != cfg.StoreID {
		t.Errorf("store_id = %q", q.Get("store_id"))
	}
	if visitor := q.Get("visitor_id"); len(visitor) != 32 {
		t.Errorf("visitor_id = %q, want 32 hex chars", visitor)
	}
	if captured.Header.Get("user-agent") == "" {
		t.Error("missing user-agent header")
	}
	if captured.Header.Get("accept") != "application/json" {
		t.Errorf("accept = %q", captured.Header.Get("accept"))
	}
}

func TestAPICheckCanceledContext(t *testing.T) {
	cfg := apiTestConfig("89542109")
	src, _ := newTestAPISource(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.Check(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
