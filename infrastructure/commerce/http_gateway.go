package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/service"
	"github.com/shelfwise/action-engine/pkg/logging"
)

// Config holds commerce backend client settings
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration

	BreakerMaxRequests      uint32
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration
	BreakerFailureThreshold uint32
}

// DefaultConfig returns client settings suitable for local use
func DefaultConfig() Config {
	return Config{
		BaseURL:                 "http://localhost:8090",
		RequestTimeout:          15 * time.Second,
		BreakerMaxRequests:      3,
		BreakerInterval:         60 * time.Second,
		BreakerTimeout:          30 * time.Second,
		BreakerFailureThreshold: 5,
	}
}

// HTTPGateway talks to the commerce backend over HTTP. It implements both
// the catalog read side and the mutating gateway, with all calls routed
// through a shared circuit breaker.
type HTTPGateway struct {
	config  Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logging.Logger
}

// NewHTTPGateway creates the commerce client
func NewHTTPGateway(cfg Config, logger *logging.Logger) *HTTPGateway {
	componentLogger := logger.WithComponent("commerce_gateway")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "commerce-gateway",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			componentLogger.Info("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &HTTPGateway{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		breaker: breaker,
		logger:  componentLogger,
	}
}

// GetSKU reads current catalog state for one SKU
func (g *HTTPGateway) GetSKU(ctx context.Context, sku string) (*service.SKUSnapshot, error) {
	var snapshot service.SKUSnapshot
	err := g.do(ctx, http.MethodGet, "/api/v1/catalog/skus/"+url.PathEscape(sku), nil, &snapshot)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read SKU %s", sku)
	}
	return &snapshot, nil
}

// ApplyPriceChange sets the list price of one SKU
func (g *HTTPGateway) ApplyPriceChange(ctx context.Context, sku string, newPrice float64) (*service.ChangeResult, error) {
	body := map[string]interface{}{"price": newPrice}
	var result service.ChangeResult
	err := g.do(ctx, http.MethodPut, "/api/v1/catalog/skus/"+url.PathEscape(sku)+"/price", body, &result)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to change price of SKU %s", sku)
	}
	return &result, nil
}

// ApplyStockChange sets the absolute on-hand level of one SKU
func (g *HTTPGateway) ApplyStockChange(ctx context.Context, sku string, quantity int, supplierID string) (*service.ChangeResult, error) {
	body := map[string]interface{}{"quantity": quantity}
	if supplierID != "" {
		body["supplier_id"] = supplierID
	}
	var result service.ChangeResult
	err := g.do(ctx, http.MethodPut, "/api/v1/catalog/skus/"+url.PathEscape(sku)+"/stock", body, &result)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to change stock of SKU %s", sku)
	}
	return &result, nil
}

// ApplyDiscountChange sets the discount percentage of one SKU
func (g *HTTPGateway) ApplyDiscountChange(ctx context.Context, sku string, discountPct float64) (*service.ChangeResult, error) {
	body := map[string]interface{}{"discount_pct": discountPct}
	var result service.ChangeResult
	err := g.do(ctx, http.MethodPut, "/api/v1/catalog/skus/"+url.PathEscape(sku)+"/discount", body, &result)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to change discount of SKU %s", sku)
	}
	return &result, nil
}

// LaunchCampaign creates a campaign under the caller-minted ID, so the
// stored snapshot alone is enough to cancel it later
func (g *HTTPGateway) LaunchCampaign(ctx context.Context, campaignID string, payload *entity.LaunchCampaignPayload) (*service.ChangeResult, error) {
	body := map[string]interface{}{
		"campaign_id":   campaignID,
		"campaign_name": payload.CampaignName,
		"target_skus":   payload.TargetSKUs,
		"budget":        payload.Budget,
		"duration_days": payload.DurationDays,
	}
	var result service.ChangeResult
	err := g.do(ctx, http.MethodPost, "/api/v1/campaigns", body, &result)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to launch campaign %s", campaignID)
	}
	return &result, nil
}

// CancelCampaign cancels a previously launched campaign
func (g *HTTPGateway) CancelCampaign(ctx context.Context, campaignID string) (*service.ChangeResult, error) {
	var result service.ChangeResult
	err := g.do(ctx, http.MethodDelete, "/api/v1/campaigns/"+url.PathEscape(campaignID), nil, &result)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to cancel campaign %s", campaignID)
	}
	return &result, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body, out interface{}) error {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, errors.Wrap(err, "failed to marshal request body")
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, g.config.BaseURL+path, reader)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build request")
		}
		req.Header.Set("Content-Type", "application/json")
		if g.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "request failed")
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read response body")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("commerce backend returned %d: %s", resp.StatusCode, truncate(data, 200))
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	data := result.([]byte)
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "failed to decode response body")
	}
	return nil
}

func truncate(data []byte, limit int) string {
	if len(data) > limit {
		data = data[:limit]
	}
	return string(data)
}
