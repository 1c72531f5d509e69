// Package shipping quotes carrier rates for settled sales.
package shipping

//go:generate mockgen -destination=shippingmock/shippingmock.go -package=shippingmock github.com/jensholdgaard/bluepenguin/internal/shipping RateProvider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bluepenguin/internal/config"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

// ErrUnavailable is returned when no quote could be obtained.
var ErrUnavailable = errors.New("shipping rates unavailable")

// Parcel describes the package being shipped.
type Parcel struct {
	Length       decimal.Decimal `json:"length"`
	Width        decimal.Decimal `json:"width"`
	Height       decimal.Decimal `json:"height"`
	Weight       decimal.Decimal `json:"weight"`
	DistanceUnit string          `json:"distance_unit"` // "in" or "cm"
	WeightUnit   string          `json:"weight_unit"`   // "lb" or "kg"
}

// Validate checks dimensions are positive and fills default units.
func (p *Parcel) Validate() error {
	for name, v := range map[string]decimal.Decimal{
		"length": p.Length, "width": p.Width, "height": p.Height, "weight": p.Weight,
	} {
		if !v.IsPositive() {
			return fmt.Errorf("parcel %s must be positive", name)
		}
	}
	if p.DistanceUnit == "" {
		p.DistanceUnit = "in"
	}
	if p.WeightUnit == "" {
		p.WeightUnit = "lb"
	}
	if p.DistanceUnit != "in" && p.DistanceUnit != "cm" {
		return fmt.Errorf("unsupported distance unit %q", p.DistanceUnit)
	}
	if p.WeightUnit != "lb" && p.WeightUnit != "kg" {
		return fmt.Errorf("unsupported weight unit %q", p.WeightUnit)
	}
	return nil
}

// Quote is a carrier's offer for a parcel.
type Quote struct {
	Carrier           string          `json:"carrier"`
	Cost              decimal.Decimal `json:"cost"`
	EstimatedDelivery time.Time       `json:"estimated_delivery"`
}

// RateProvider quotes the cheapest rate for a parcel.
type RateProvider interface {
	Quote(ctx context.Context, parcel Parcel, from, to store.Address) (Quote, error)
}

// HTTP requests quotes from a JSON rate service.
type HTTP struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTP returns an HTTP rate provider for cfg.
func NewHTTP(cfg config.ShippingConfig) *HTTP {
	return &HTTP{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

type rateRequest struct {
	Parcel Parcel        `json:"parcel"`
	From   store.Address `json:"address_from"`
	To     store.Address `json:"address_to"`
}

func (h *HTTP) Quote(ctx context.Context, parcel Parcel, from, to store.Address) (Quote, error) {
	if h.endpoint == "" {
		return Quote{}, fmt.Errorf("%w: no endpoint configured", ErrUnavailable)
	}

	raw, err := json.Marshal(rateRequest{Parcel: parcel, From: from, To: to})
	if err != nil {
		return Quote{}, fmt.Errorf("encoding rate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/rates", bytes.NewReader(raw))
	if err != nil {
		return Quote{}, fmt.Errorf("building rate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("%w: rate service returned %d", ErrUnavailable, resp.StatusCode)
	}

	var q Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return Quote{}, fmt.Errorf("%w: decoding quote: %v", ErrUnavailable, err)
	}
	if q.Carrier == "" || q.Cost.IsNegative() || q.EstimatedDelivery.IsZero() {
		return Quote{}, fmt.Errorf("%w: incomplete quote", ErrUnavailable)
	}
	q.Cost = q.Cost.Round(2)
	return q, nil
}
