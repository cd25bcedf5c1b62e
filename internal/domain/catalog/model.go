// Package catalog holds the product-side domain models.
package catalog

import (
	"fmt"
	"strings"
	"time"
)

// asinLength is fixed by the external catalog's identifier format.
const asinLength = 10

// Product is a catalog item whose price the service observes over time.
// LowestPrice and HighestPrice use zero as the "never observed" sentinel;
// once any observation exists, LowestPrice <= CurrentPrice <= HighestPrice.
type Product struct {
	ID            string
	ASIN          string
	Title         string
	ImageURL      string
	DetailURL     string
	CategoryID    string
	CurrentPrice  float64
	LowestPrice   float64
	HighestPrice  float64
	AveragePrice  float64
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PriceRecord is one immutable price observation. Records are append-only and
// ordered by RecordedAt within a product.
type PriceRecord struct {
	ID         string
	ProductID  string
	Price      float64
	RecordedAt time.Time
}

// Category groups products for browsing.
type Category struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
}

// NormalizeASIN validates and upper-cases an external catalog identifier.
func NormalizeASIN(value string) (string, error) {
	value = strings.TrimSpace(value)
	if len(value) != asinLength {
		return "", fmt.Errorf("asin must be exactly %d characters", asinLength)
	}
	return strings.ToUpper(value), nil
}

// Slugify lowercases a category name and collapses everything that is not a
// letter or digit into single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ExtractASIN pulls the identifier out of an amazon.com.au product URL of the
// /dp/<asin> form. It returns an empty string when the URL does not match.
func ExtractASIN(rawURL string) string {
	lower := strings.ToLower(rawURL)
	if !strings.Contains(lower, "amazon.com.au") {
		return ""
	}
	idx := strings.Index(lower, "/dp/")
	if idx < 0 {
		return ""
	}
	rest := rawURL[idx+len("/dp/"):]
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		rest = rest[:end]
	}
	asin, err := NormalizeASIN(rest)
	if err != nil {
		return ""
	}
	return asin
}
