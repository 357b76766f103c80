package publisher

import (
	"fmt"

	"github.com/listforge/listforge/internal/pipeline"
	memorypub "github.com/listforge/listforge/internal/publisher/memory"
)

// Build instantiates the configured storefront adapters. The set of supported
// stores is fixed at compile time; an unknown key in the config is an error
// rather than a silently dead entry.
func Build(configs map[string]Config, doer Doer) ([]pipeline.StorePublisher, error) {
	publishers := make([]pipeline.StorePublisher, 0, len(configs))
	for storeID, cfg := range configs {
		var (
			p   pipeline.StorePublisher
			err error
		)
		switch storeID {
		case "shopify":
			p, err = NewShopify(cfg, doer)
		case "woocommerce":
			p, err = NewWooCommerce(cfg, doer)
		case "amazon":
			p, err = NewAmazon(cfg, doer, "")
		case "memory":
			p = memorypub.New("memory")
		default:
			return nil, fmt.Errorf("unknown store %q", storeID)
		}
		if err != nil {
			return nil, fmt.Errorf("build %s publisher: %w", storeID, err)
		}
		publishers = append(publishers, p)
	}
	return publishers, nil
}
