package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/listforge/listforge/internal/pipeline"
)

// Amazon publishes listings through the Selling Partner listings items API.
// The SKU is derived from the payload signature, which makes the PUT itself
// idempotent: resubmitting the same payload updates the same listing.
type Amazon struct {
	cfg           Config
	doer          Doer
	marketplaceID string
}

// NewAmazon builds the Amazon adapter. A missing marketplace defaults to the
// US marketplace.
func NewAmazon(cfg Config, doer Doer, marketplaceID string) (*Amazon, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("amazon endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("amazon access token is required")
	}
	if marketplaceID == "" {
		marketplaceID = "ATVPDKIKX0DER"
	}
	return &Amazon{cfg: cfg, doer: doer, marketplaceID: marketplaceID}, nil
}

// StoreID implements pipeline.StorePublisher.
func (a *Amazon) StoreID() string { return "amazon" }

type amazonListing struct {
	ProductType string                   `json:"productType"`
	Attributes  map[string][]amazonValue `json:"attributes"`
}

type amazonValue struct {
	Value         any    `json:"value"`
	MarketplaceID string `json:"marketplace_id,omitempty"`
}

// Publish upserts the listing under a signature-derived SKU.
func (a *Amazon) Publish(ctx context.Context, product pipeline.ProductRecord, idempotencyKey string) (pipeline.PublishResult, error) {
	sku := skuFromSignature(idempotencyKey)

	attrs := map[string][]amazonValue{
		"item_name":           {{Value: product.Title, MarketplaceID: a.marketplaceID}},
		"product_description": {{Value: product.DescriptionHTML, MarketplaceID: a.marketplaceID}},
	}
	if product.Price != nil {
		attrs["purchasable_offer"] = []amazonValue{{
			Value: map[string]any{
				"currency": product.Price.Currency,
				"our_price": []map[string]any{
					{"schedule": []map[string]any{{"value_with_tax": product.Price.Amount}}},
				},
			},
			MarketplaceID: a.marketplaceID,
		}}
	}
	var imageURLs []string
	for _, img := range product.Images {
		if !img.IsPlaceholder() {
			imageURLs = append(imageURLs, img.URL)
		}
	}
	if len(imageURLs) > 0 {
		attrs["main_product_image_locator"] = []amazonValue{{
			Value:         map[string]any{"media_location": imageURLs[0]},
			MarketplaceID: a.marketplaceID,
		}}
	}

	body, err := json.Marshal(amazonListing{ProductType: "PRODUCT", Attributes: attrs})
	if err != nil {
		return pipeline.PublishResult{}, fmt.Errorf("marshal amazon listing: %w", err)
	}

	endpoint := fmt.Sprintf(
		"%s/listings/2021-08-01/items/%s?marketplaceIds=%s",
		strings.TrimRight(a.cfg.Endpoint, "/"),
		url.PathEscape(sku),
		url.QueryEscape(a.marketplaceID),
	)
	resp, err := send(ctx, a.doer, transportRequest(
		endpoint,
		http.MethodPut,
		body,
		map[string]string{"x-amz-access-token": a.cfg.APIKey},
	))
	if err != nil {
		return pipeline.PublishResult{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pipeline.PublishResult{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("amazon rejected listing with status %d", resp.StatusCode),
		}, nil
	}

	var parsed struct {
		SKU    string `json:"sku"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err == nil && parsed.Status == "INVALID" {
		return pipeline.PublishResult{
			StatusCode: resp.StatusCode,
			Message:    "amazon reported the listing submission as invalid",
		}, nil
	}
	return pipeline.PublishResult{
		Success:    true,
		StatusCode: resp.StatusCode,
		ExternalID: sku,
	}, nil
}

// skuFromSignature shortens the hex signature to a stable SKU.
func skuFromSignature(signature string) string {
	if len(signature) > 32 {
		signature = signature[:32]
	}
	return "LF-" + strings.ToUpper(signature)
}
