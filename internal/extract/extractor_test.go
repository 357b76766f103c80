package extract

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/listforge/listforge/internal/hash/sha256"
	"github.com/listforge/listforge/internal/pipeline"
	"github.com/listforge/listforge/internal/transport"
)

type fakeFetcher struct {
	pages map[string]string
	err   error
}

func (f *fakeFetcher) Get(_ context.Context, rawURL string, _ http.Header) (transport.Response, error) {
	if f.err != nil {
		return transport.Response{}, f.err
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return transport.Response{}, &transport.StatusError{Code: 404, URL: rawURL}
	}
	return transport.Response{URL: rawURL, StatusCode: 200, Body: []byte(body)}, nil
}

type fakeBlobStore struct {
	objects map[string][]byte
	err     error
}

func (b *fakeBlobStore) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	b.objects[path] = data
	return "mem://archive/" + path, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

const fullPage = `<!DOCTYPE html>
<html><head>
<title>Fallback Title</title>
<meta property="og:title" content="Ceramic Pour-Over Coffee Dripper">
<meta property="og:description" content="A slow-brew ceramic dripper with a spiral rib design for even extraction.">
<meta property="og:image" content="https://cdn.example.com/dripper-main.jpg">
<meta property="product:price:amount" content="32.50">
<meta property="product:price:currency" content="EUR">
<meta property="product:brand" content="BrewCraft">
<meta property="product:condition" content="new">
</head><body>
<img src="https://cdn.example.com/dripper-side.jpg" alt="Side view">
<img src="http://insecure.example.com/skip.jpg" alt="skipped">
</body></html>`

const noMediaPage = `<html><head>
<title>Plain Kettle</title>
<meta name="description" content="A very plain kettle with no pictures anywhere on its page.">
<meta property="product:price:amount" content="19.99">
<meta property="product:price:currency" content="USD">
</head><body><p>No images here.</p></body></html>`

const noPricePage = `<html><head>
<meta property="og:title" content="Mystery Box Subscription">
<meta property="og:description" content="A monthly mystery box with a rotating assortment of goods.">
<meta property="og:image" content="https://cdn.example.com/box.jpg">
</head><body></body></html>`

func newTestExtractor(fetcher PageFetcher, blobs pipeline.BlobStore) *Extractor {
	clock := fixedClock{now: time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)}
	return New(fetcher, blobs, sha256.New(), clock, nil)
}

func TestExtractTruncatesLongTitleOnRuneBoundary(t *testing.T) {
	t.Parallel()

	longTitle := strings.Repeat("Ä", 600)
	page := fmt.Sprintf(`<html><head>
<meta property="og:title" content="%s">
<meta property="og:description" content="An overly titled product with a very long multibyte name.">
<meta property="og:image" content="https://cdn.example.com/long.jpg">
<meta property="product:price:amount" content="12.00">
</head><body></body></html>`, longTitle)

	url := "https://shop.example.com/long-title"
	fetcher := &fakeFetcher{pages: map[string]string{url: page}}
	e := newTestExtractor(fetcher, &fakeBlobStore{})

	record, err := e.Extract(context.Background(), url)
	require.NoError(t, err)
	require.True(t, utf8.ValidString(record.Title), "truncation never splits a rune")
	require.Equal(t, 500, utf8.RuneCountInString(record.Title))
	require.NoError(t, record.Validate())
}

func TestExtractCompleteProduct(t *testing.T) {
	t.Parallel()

	url := "https://shop.example.com/dripper"
	fetcher := &fakeFetcher{pages: map[string]string{url: fullPage}}
	blobs := &fakeBlobStore{}
	e := newTestExtractor(fetcher, blobs)

	record, err := e.Extract(context.Background(), url)
	require.NoError(t, err)

	require.Equal(t, "Ceramic Pour-Over Coffee Dripper", record.Title)
	require.Contains(t, record.DescriptionHTML, "spiral rib")
	require.Equal(t, pipeline.RecordComplete, record.Status)

	require.Len(t, record.Images, 2, "og:image plus the https img tag; http src is dropped")
	require.Equal(t, "https://cdn.example.com/dripper-main.jpg", record.Images[0].URL)
	require.Equal(t, record.Title, record.Images[0].Alt, "meta images inherit the title as alt")
	require.Equal(t, "Side view", record.Images[1].Alt)

	require.NotNil(t, record.Price)
	require.Equal(t, 32.50, record.Price.Amount)
	require.Equal(t, "EUR", record.Price.Currency)

	require.Equal(t, "BrewCraft", record.Attributes["brand"])
	require.Equal(t, "new", record.Attributes["condition"])
	require.NotContains(t, record.Attributes, "price:amount", "price metas stay out of attributes")

	require.Greater(t, record.ConfidenceScore, 0.9, "all signals from meta tags")
	require.NotEmpty(t, record.PayloadSignature)
	require.NotEmpty(t, record.BlobURI)
	require.Len(t, blobs.objects, 1)

	require.NoError(t, record.Validate())
}

func TestExtractMissingImageUsesPlaceholder(t *testing.T) {
	t.Parallel()

	url := "https://shop.example.com/kettle"
	e := newTestExtractor(&fakeFetcher{pages: map[string]string{url: noMediaPage}}, nil)

	record, err := e.Extract(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, pipeline.RecordIncompleteMedia, record.Status)
	require.Len(t, record.Images, 1)
	require.True(t, record.Images[0].IsPlaceholder())
	require.False(t, record.HasRealImage())
	require.Equal(t, record.Title, record.Images[0].Alt)
}

func TestExtractMissingPriceMarksIncomplete(t *testing.T) {
	t.Parallel()

	url := "https://shop.example.com/box"
	e := newTestExtractor(&fakeFetcher{pages: map[string]string{url: noPricePage}}, nil)

	record, err := e.Extract(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, pipeline.RecordIncompletePrice, record.Status)
	require.Nil(t, record.Price)
}

func TestExtractSignatureIgnoresCosmeticMarkup(t *testing.T) {
	t.Parallel()

	variant := fullPage + "\n<footer>Updated layout, same listing.</footer>"
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://shop.example.com/a": fullPage,
		"https://shop.example.com/b": variant,
	}}
	e := newTestExtractor(fetcher, nil)

	a, err := e.Extract(context.Background(), "https://shop.example.com/a")
	require.NoError(t, err)
	b, err := e.Extract(context.Background(), "https://shop.example.com/b")
	require.NoError(t, err)

	// Same URL with cosmetic changes would collide; here only the source URL
	// differs, so the signatures must not match.
	require.NotEqual(t, a.PayloadSignature, b.PayloadSignature)

	again, err := e.Extract(context.Background(), "https://shop.example.com/a")
	require.NoError(t, err)
	require.Equal(t, a.PayloadSignature, again.PayloadSignature, "signature is deterministic")
}

func TestExtractRejectsInsecureURL(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(&fakeFetcher{}, nil)
	_, err := e.Extract(context.Background(), "http://shop.example.com/item")
	require.ErrorContains(t, err, "must use https")
}

func TestExtractPropagatesFetchError(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(&fakeFetcher{err: fmt.Errorf("connection refused")}, nil)
	_, err := e.Extract(context.Background(), "https://shop.example.com/item")
	require.ErrorContains(t, err, "connection refused")
}

func TestExtractFailsWithoutTitle(t *testing.T) {
	t.Parallel()

	url := "https://shop.example.com/untitled"
	e := newTestExtractor(&fakeFetcher{pages: map[string]string{url: "<html><body><p>nothing</p></body></html>"}}, nil)
	_, err := e.Extract(context.Background(), url)
	require.ErrorContains(t, err, "no title")
}

func TestExtractArchiveFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	url := "https://shop.example.com/dripper"
	fetcher := &fakeFetcher{pages: map[string]string{url: fullPage}}
	blobs := &fakeBlobStore{err: fmt.Errorf("bucket unavailable")}
	e := newTestExtractor(fetcher, blobs)

	record, err := e.Extract(context.Background(), url)
	require.NoError(t, err)
	require.Empty(t, record.BlobURI)
}
