package publisher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/listforge/listforge/internal/pipeline"
)

// WooCommerce publishes products through the WooCommerce REST API v3.
type WooCommerce struct {
	cfg  Config
	doer Doer
}

// NewWooCommerce builds the WooCommerce adapter.
func NewWooCommerce(cfg Config, doer Doer) (*WooCommerce, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("woocommerce endpoint is required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("woocommerce consumer key and secret are required")
	}
	return &WooCommerce{cfg: cfg, doer: doer}, nil
}

// StoreID implements pipeline.StorePublisher.
func (w *WooCommerce) StoreID() string { return "woocommerce" }

type wooProduct struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Description  string            `json:"description,omitempty"`
	RegularPrice string            `json:"regular_price,omitempty"`
	Images       []wooImage        `json:"images,omitempty"`
	Attributes   []wooAttribute    `json:"attributes,omitempty"`
	MetaData     []wooMetaDataItem `json:"meta_data,omitempty"`
}

type wooImage struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

type wooAttribute struct {
	Name    string   `json:"name"`
	Visible bool     `json:"visible"`
	Options []string `json:"options"`
}

type wooMetaDataItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Publish creates a simple product. The payload signature is stored as
// product metadata so replays are traceable on the WooCommerce side.
func (w *WooCommerce) Publish(ctx context.Context, product pipeline.ProductRecord, idempotencyKey string) (pipeline.PublishResult, error) {
	payload := wooProduct{
		Name:        product.Title,
		Type:        "simple",
		Description: product.DescriptionHTML,
		MetaData:    []wooMetaDataItem{{Key: "listforge_signature", Value: idempotencyKey}},
	}
	if product.Price != nil {
		payload.RegularPrice = strconv.FormatFloat(product.Price.Amount, 'f', 2, 64)
	}
	for _, img := range product.Images {
		if img.IsPlaceholder() {
			continue
		}
		payload.Images = append(payload.Images, wooImage{Src: img.URL, Alt: img.Alt})
	}
	for key, value := range product.Attributes {
		payload.Attributes = append(payload.Attributes, wooAttribute{
			Name:    key,
			Visible: true,
			Options: []string{value},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return pipeline.PublishResult{}, fmt.Errorf("marshal woocommerce product: %w", err)
	}

	auth := base64.StdEncoding.EncodeToString([]byte(w.cfg.APIKey + ":" + w.cfg.APISecret))
	resp, err := send(ctx, w.doer, transportRequest(
		strings.TrimRight(w.cfg.Endpoint, "/")+"/wp-json/wc/v3/products",
		http.MethodPost,
		body,
		map[string]string{"Authorization": "Basic " + auth},
	))
	if err != nil {
		return pipeline.PublishResult{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pipeline.PublishResult{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("woocommerce rejected product with status %d", resp.StatusCode),
		}, nil
	}

	var parsed struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil || parsed.ID == 0 {
		return pipeline.PublishResult{
			StatusCode: resp.StatusCode,
			Message:    "woocommerce response missing product id",
		}, nil
	}
	return pipeline.PublishResult{
		Success:    true,
		StatusCode: resp.StatusCode,
		ExternalID: strconv.FormatInt(parsed.ID, 10),
	}, nil
}
