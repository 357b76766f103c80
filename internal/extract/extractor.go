// Package extract turns fetched product pages into canonical ProductRecords.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/listforge/listforge/internal/pipeline"
	"github.com/listforge/listforge/internal/transport"
)

// Confidence weights per extracted signal. Meta-tag hits score full weight,
// fallback selectors score reduced weight.
const (
	confTitle       = 0.30
	confDescription = 0.25
	confImage       = 0.25
	confPrice       = 0.20

	fallbackFactor = 0.7
)

const maxImages = 10

// PageFetcher is the slice of the transport coordinator the extractor needs.
type PageFetcher interface {
	Get(ctx context.Context, rawURL string, headers http.Header) (transport.Response, error)
}

// Extractor fetches a product page and derives a ProductRecord from its
// Open Graph metadata and document structure.
type Extractor struct {
	fetcher PageFetcher
	blobs   pipeline.BlobStore
	hasher  pipeline.Hasher
	clock   pipeline.Clock
	logger  *zap.Logger
}

// New constructs an Extractor. The blob store is optional; when nil, fetched
// pages are not archived.
func New(
	fetcher PageFetcher,
	blobs pipeline.BlobStore,
	hasher pipeline.Hasher,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		fetcher: fetcher,
		blobs:   blobs,
		hasher:  hasher,
		clock:   clock,
		logger:  logger,
	}
}

// Extract fetches the URL and builds a validated ProductRecord. Records with
// no usable image carry the placeholder and an incomplete-media status; a
// missing price yields an incomplete-price status.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (pipeline.ProductRecord, error) {
	if !strings.HasPrefix(rawURL, "https://") {
		return pipeline.ProductRecord{}, fmt.Errorf("source URL must use https: %q", rawURL)
	}

	resp, err := e.fetcher.Get(ctx, rawURL, nil)
	if err != nil {
		return pipeline.ProductRecord{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return pipeline.ProductRecord{}, fmt.Errorf("parse %s: %w", rawURL, err)
	}

	record := pipeline.ProductRecord{
		SourceURL:   rawURL,
		ExtractedAt: e.clock.Now(),
		Status:      pipeline.RecordComplete,
	}
	var confidence float64

	title, fromMeta := e.title(doc)
	if title == "" {
		return pipeline.ProductRecord{}, fmt.Errorf("no title found at %s", rawURL)
	}
	record.Title = truncate(title, 500)
	confidence += weighted(confTitle, fromMeta)

	if desc, fromMeta := e.description(doc); desc != "" {
		record.DescriptionHTML = desc
		confidence += weighted(confDescription, fromMeta)
	}

	images, fromMeta := e.images(doc, record.Title)
	if len(images) > 0 {
		record.Images = images
		confidence += weighted(confImage, fromMeta)
	} else {
		record.Images = []pipeline.ProductImage{{
			URL: pipeline.PlaceholderImageURL,
			Alt: record.Title,
		}}
		record.Status = pipeline.RecordIncompleteMedia
	}

	if price := e.price(doc); price != nil {
		record.Price = price
		confidence += confPrice
	} else if record.Status == pipeline.RecordComplete {
		record.Status = pipeline.RecordIncompletePrice
	}

	record.Attributes = e.attributes(doc)
	record.ConfidenceScore = confidence

	signature, err := e.signature(record)
	if err != nil {
		return pipeline.ProductRecord{}, fmt.Errorf("compute signature: %w", err)
	}
	record.PayloadSignature = signature

	e.archive(ctx, &record, resp.Body)

	if err := record.Validate(); err != nil {
		return pipeline.ProductRecord{}, fmt.Errorf("extracted record invalid: %w", err)
	}
	return record, nil
}

// title prefers og:title, then the document title, then the first h1.
func (e *Extractor) title(doc *goquery.Document) (string, bool) {
	if v := metaContent(doc, `meta[property="og:title"]`); v != "" {
		return v, true
	}
	if v := strings.TrimSpace(doc.Find("title").First().Text()); v != "" {
		return v, false
	}
	return strings.TrimSpace(doc.Find("h1").First().Text()), false
}

func (e *Extractor) description(doc *goquery.Document) (string, bool) {
	if v := metaContent(doc, `meta[property="og:description"]`); v != "" {
		return v, true
	}
	if v := metaContent(doc, `meta[name="description"]`); v != "" {
		return v, false
	}
	sel := doc.Find(`[itemprop="description"]`).First()
	if html, err := sel.Html(); err == nil && strings.TrimSpace(html) != "" {
		return strings.TrimSpace(html), false
	}
	return "", false
}

// images collects og:image metas first, then https img tags. Images without
// alt text inherit the product title so downstream validation holds.
func (e *Extractor) images(doc *goquery.Document, title string) ([]pipeline.ProductImage, bool) {
	var out []pipeline.ProductImage
	seen := make(map[string]bool)

	add := func(url, alt string) {
		url = strings.TrimSpace(url)
		if !strings.HasPrefix(url, "https://") || seen[url] || len(out) >= maxImages {
			return
		}
		seen[url] = true
		if strings.TrimSpace(alt) == "" {
			alt = title
		}
		out = append(out, pipeline.ProductImage{URL: url, Alt: alt})
	}

	doc.Find(`meta[property="og:image"]`).Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("content", ""), "")
	})
	fromMeta := len(out) > 0

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("src", ""), s.AttrOr("alt", ""))
	})
	return out, fromMeta
}

// price reads product meta tags, then an itemprop fallback. Currency defaults
// to USD when the page declares an amount without one.
func (e *Extractor) price(doc *goquery.Document) *pipeline.Price {
	amount := metaContent(doc, `meta[property="product:price:amount"]`)
	currency := metaContent(doc, `meta[property="product:price:currency"]`)
	if amount == "" {
		amount = metaContent(doc, `meta[property="og:price:amount"]`)
		currency = metaContent(doc, `meta[property="og:price:currency"]`)
	}
	if amount == "" {
		sel := doc.Find(`[itemprop="price"]`).First()
		amount = strings.TrimSpace(sel.AttrOr("content", sel.Text()))
		currency = strings.TrimSpace(doc.Find(`[itemprop="priceCurrency"]`).First().AttrOr("content", ""))
	}
	if amount == "" {
		return nil
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(amount, ",", ""), 64)
	if err != nil || value < 0 {
		return nil
	}
	if len(currency) != 3 {
		currency = "USD"
	}
	return &pipeline.Price{Amount: value, Currency: strings.ToUpper(currency)}
}

// attributes harvests product meta tags (brand, condition, availability and
// similar) into a lower-cased key map.
func (e *Extractor) attributes(doc *goquery.Document) map[string]string {
	attrs := make(map[string]string)
	doc.Find(`meta[property^="product:"]`).Each(func(_ int, s *goquery.Selection) {
		prop := s.AttrOr("property", "")
		value := strings.TrimSpace(s.AttrOr("content", ""))
		key := strings.ToLower(strings.TrimPrefix(prop, "product:"))
		if value == "" || key == "" || strings.HasPrefix(key, "price:") {
			return
		}
		attrs[key] = value
	})
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// signature hashes the normalized content fields, so cosmetic page changes
// that leave the listing identical do not produce a new signature.
func (e *Extractor) signature(record pipeline.ProductRecord) (string, error) {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(record.Title)))
	b.WriteByte('\n')
	b.WriteString(strings.TrimSpace(record.DescriptionHTML))
	b.WriteByte('\n')
	if record.Price != nil {
		fmt.Fprintf(&b, "%.2f %s", record.Price.Amount, record.Price.Currency)
	}
	b.WriteByte('\n')
	for _, img := range record.Images {
		if !img.IsPlaceholder() {
			b.WriteString(img.URL)
			b.WriteByte('\n')
		}
	}
	b.WriteString(record.SourceURL)
	return e.hasher.Hash([]byte(b.String()))
}

// archive stores the raw page when a blob store is configured. Failures only
// log: archival never blocks extraction.
func (e *Extractor) archive(ctx context.Context, record *pipeline.ProductRecord, body []byte) {
	if e.blobs == nil || len(body) == 0 {
		return
	}
	digest, err := e.hasher.Hash(body)
	if err != nil {
		e.logger.Warn("hash page for archive failed", zap.Error(err))
		return
	}
	path := fmt.Sprintf("pages/%s/%s.html", e.clock.Now().UTC().Format("2006-01-02"), digest)
	uri, err := e.blobs.PutObject(ctx, path, "text/html", body)
	if err != nil {
		e.logger.Warn("archive page failed",
			zap.String("url", record.SourceURL),
			zap.Error(err),
		)
		return
	}
	record.BlobURI = uri
}

func metaContent(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr("content", ""))
}

func weighted(weight float64, fromMeta bool) float64 {
	if fromMeta {
		return weight
	}
	return weight * fallbackFactor
}

// truncate cuts s to at most n characters on a rune boundary.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
