package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/asinscrape/internal/domain"
	"github.com/jonesrussell/asinscrape/internal/logger"
)

const (
	defaultTimeout = 30 * time.Second
	acceptLanguage = "en-US,en;q=0.9"
)

// AmazonConfig holds settings for the Amazon product page fetcher.
type AmazonConfig struct {
	// BaseURL is the marketplace root, e.g. https://www.amazon.com.
	BaseURL string
	// UserAgent is sent on every request.
	UserAgent string
	// Timeout bounds each fetch, including body read and parse.
	Timeout time.Duration
}

// Amazon fetches and parses product detail pages.
type Amazon struct {
	cfg    AmazonConfig
	client *http.Client
	logger logger.Interface
}

// NewAmazon creates an Amazon product page fetcher.
func NewAmazon(cfg AmazonConfig, log logger.Interface) *Amazon {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Amazon{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log,
	}
}

// Fetch resolves one ASIN to product data or a typed failure.
func (a *Amazon) Fetch(ctx context.Context, asin string) (*domain.Product, error) {
	url := fmt.Sprintf("%s/dp/%s", strings.TrimRight(a.cfg.BaseURL, "/"), asin)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, newError(KindNetwork, "failed to build request", err)
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	req.Header.Set("Accept-Language", acceptLanguage)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, newError(KindNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, asin); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, newError(KindParse, "failed to parse response body", err)
	}

	if isRobotCheck(doc) {
		return nil, newError(KindRateLimited, "robot check page served", nil)
	}

	product, err := a.extract(doc, asin)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("fetched product", "asin", asin, "title", product.Title)
	return product, nil
}

// classifyStatus maps an HTTP status code to a typed fetch error.
func classifyStatus(code int, asin string) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return newError(KindNotFound, "product not found: "+asin, nil)
	case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
		return newError(KindRateLimited, fmt.Sprintf("upstream returned %d", code), nil)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return newError(KindAuthFailure, fmt.Sprintf("upstream returned %d", code), nil)
	default:
		return newError(KindNetwork, fmt.Sprintf("unexpected status %d", code), nil)
	}
}

// isRobotCheck detects the captcha interstitial Amazon serves with a 200.
func isRobotCheck(doc *goquery.Document) bool {
	if doc.Find("form[action='/errors/validateCaptcha']").Length() > 0 {
		return true
	}
	title := strings.ToLower(doc.Find("title").First().Text())
	return strings.Contains(title, "robot check") || strings.Contains(title, "captcha")
}

// extract pulls product fields out of a detail page document.
func (a *Amazon) extract(doc *goquery.Document, asin string) (*domain.Product, error) {
	title := cleanText(doc.Find("#productTitle").First().Text())
	if title == "" {
		return nil, newError(KindParse, "product title not found", nil)
	}

	product := &domain.Product{
		ASIN:      asin,
		Title:     title,
		Brand:     extractBrand(doc),
		Category:  cleanText(doc.Find("#wayfinding-breadcrumbs_feature_div li a").First().Text()),
		ImageURL:  doc.Find("#landingImage").First().AttrOr("src", ""),
		ScrapedAt: time.Now().UTC(),
	}

	product.PriceCents, product.Currency = extractPrice(doc)
	product.Rating = extractRating(doc)
	product.ReviewCount = extractReviewCount(doc)
	product.Description = cleanText(doc.Find("#productDescription p").First().Text())

	doc.Find("#feature-bullets li span.a-list-item").Each(func(_ int, s *goquery.Selection) {
		if bullet := cleanText(s.Text()); bullet != "" {
			product.Bullets = append(product.Bullets, bullet)
		}
	})

	return product, nil
}

// extractBrand reads the byline, stripping the "Visit the ... Store" framing.
func extractBrand(doc *goquery.Document) string {
	byline := cleanText(doc.Find("#bylineInfo").First().Text())
	byline = strings.TrimPrefix(byline, "Visit the ")
	byline = strings.TrimSuffix(byline, " Store")
	byline = strings.TrimPrefix(byline, "Brand: ")
	return byline
}

var priceRe = regexp.MustCompile(`([$£€])\s*([0-9,]+)(?:\.([0-9]{2}))?`)

var currencySymbols = map[string]string{
	"$": "USD",
	"£": "GBP",
	"€": "EUR",
}

// extractPrice returns the listed price in minor units plus its currency.
func extractPrice(doc *goquery.Document) (int64, string) {
	raw := cleanText(doc.Find(".a-price .a-offscreen").First().Text())
	if raw == "" {
		raw = cleanText(doc.Find("#priceblock_ourprice, #priceblock_dealprice").First().Text())
	}

	m := priceRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, ""
	}

	whole, err := strconv.ParseInt(strings.ReplaceAll(m[2], ",", ""), 10, 64)
	if err != nil {
		return 0, ""
	}
	cents := whole * 100
	if m[3] != "" {
		fraction, fErr := strconv.ParseInt(m[3], 10, 64)
		if fErr == nil {
			cents += fraction
		}
	}
	return cents, currencySymbols[m[1]]
}

var ratingRe = regexp.MustCompile(`([0-9.]+) out of 5`)

func extractRating(doc *goquery.Document) float64 {
	raw := doc.Find("#acrPopover").First().AttrOr("title", "")
	if raw == "" {
		raw = cleanText(doc.Find("span[data-hook='rating-out-of-text']").First().Text())
	}
	m := ratingRe.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	rating, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return rating
}

var digitsRe = regexp.MustCompile(`[0-9,]+`)

func extractReviewCount(doc *goquery.Document) int {
	raw := cleanText(doc.Find("#acrCustomerReviewText").First().Text())
	m := digitsRe.FindString(raw)
	if m == "" {
		return 0
	}
	count, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return count
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
