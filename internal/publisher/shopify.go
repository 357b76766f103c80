package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/listforge/listforge/internal/pipeline"
)

// Shopify publishes products through the Shopify Admin REST API.
type Shopify struct {
	cfg  Config
	doer Doer
}

// NewShopify builds the Shopify adapter.
func NewShopify(cfg Config, doer Doer) (*Shopify, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("shopify endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("shopify api key is required")
	}
	return &Shopify{cfg: cfg, doer: doer}, nil
}

// StoreID implements pipeline.StorePublisher.
func (s *Shopify) StoreID() string { return "shopify" }

type shopifyProduct struct {
	Title    string           `json:"title"`
	BodyHTML string           `json:"body_html,omitempty"`
	Vendor   string           `json:"vendor,omitempty"`
	Images   []shopifyImage   `json:"images,omitempty"`
	Variants []shopifyVariant `json:"variants,omitempty"`
}

type shopifyImage struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

type shopifyVariant struct {
	Price string `json:"price"`
}

// Publish creates the product. The idempotency key travels as a header so a
// replayed request cannot create a second product on the Shopify side either.
func (s *Shopify) Publish(ctx context.Context, product pipeline.ProductRecord, idempotencyKey string) (pipeline.PublishResult, error) {
	payload := shopifyProduct{
		Title:    product.Title,
		BodyHTML: product.DescriptionHTML,
		Vendor:   product.Attributes["brand"],
	}
	for _, img := range product.Images {
		if img.IsPlaceholder() {
			continue
		}
		payload.Images = append(payload.Images, shopifyImage{Src: img.URL, Alt: img.Alt})
	}
	if product.Price != nil {
		payload.Variants = []shopifyVariant{{Price: strconv.FormatFloat(product.Price.Amount, 'f', 2, 64)}}
	}

	body, err := json.Marshal(map[string]shopifyProduct{"product": payload})
	if err != nil {
		return pipeline.PublishResult{}, fmt.Errorf("marshal shopify product: %w", err)
	}

	resp, err := send(ctx, s.doer, transportRequest(
		strings.TrimRight(s.cfg.Endpoint, "/")+"/admin/api/2024-10/products.json",
		http.MethodPost,
		body,
		map[string]string{
			"X-Shopify-Access-Token": s.cfg.APIKey,
			"Idempotency-Key":        idempotencyKey,
		},
	))
	if err != nil {
		return pipeline.PublishResult{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pipeline.PublishResult{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("shopify rejected product with status %d", resp.StatusCode),
		}, nil
	}

	var parsed struct {
		Product struct {
			ID int64 `json:"id"`
		} `json:"product"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil || parsed.Product.ID == 0 {
		return pipeline.PublishResult{
			StatusCode: resp.StatusCode,
			Message:    "shopify response missing product id",
		}, nil
	}
	return pipeline.PublishResult{
		Success:    true,
		StatusCode: resp.StatusCode,
		ExternalID: strconv.FormatInt(parsed.Product.ID, 10),
	}, nil
}
