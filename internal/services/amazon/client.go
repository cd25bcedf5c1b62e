// Package amazon implements a Product Advertising API v5 client with SigV4
// request signing, serialized pacing and throttle-aware retries.
package amazon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pricemate/service/pkg/logger"
)

// ErrThrottled indicates a single request was rejected with HTTP 429.
var ErrThrottled = errors.New("amazon: request throttled")

// ErrMaxRetries indicates a request stayed throttled through every retry.
var ErrMaxRetries = errors.New("amazon: throttle retries exhausted")

const (
	searchItemsPath   = "/paapi5/searchitems"
	getItemsPath      = "/paapi5/getitems"
	searchItemsTarget = "com.amazon.paapi5.v1.ProductAdvertisingAPIv1.SearchItems"
	getItemsTarget    = "com.amazon.paapi5.v1.ProductAdvertisingAPIv1.GetItems"

	// MaxBatchSize is the largest ItemIds list GetItems accepts per call.
	MaxBatchSize = 10

	defaultMaxAttempts = 3
	baseRetryDelay     = time.Second
	pacingDelay        = 1100 * time.Millisecond
)

var itemResources = []string{
	"ItemInfo.Title",
	"Images.Primary.Large",
	"Offers.Listings.Price",
}

// searchResources additionally asks for browse nodes so search results carry
// a category name.
var searchResources = []string{
	"ItemInfo.Title",
	"Images.Primary.Large",
	"Offers.Listings.Price",
	"BrowseNodeInfo.BrowseNodes",
}

// Config carries the credentials and marketplace parameters for the client.
type Config struct {
	AccessKey   string
	SecretKey   string
	PartnerTag  string
	Host        string
	Region      string
	Marketplace string
}

// Item is a normalized catalog result. Price is nil when the listing carries
// no offer; Category is the first browse node name and only populated by
// search.
type Item struct {
	ASIN      string
	Title     string
	ImageURL  string
	DetailURL string
	Category  string
	Price     *float64
}

// Client talks to the Product Advertising API. Requests are serialized
// through a single-slot gate and paced so the marketplace's one-request-per-
// second budget is never exceeded.
type Client struct {
	httpClient  *http.Client
	signer      *Signer
	host        string
	baseURL     string
	partnerTag  string
	marketplace string
	log         *logger.Logger

	gate        chan struct{}
	sleep       func(ctx context.Context, d time.Duration) error
	maxAttempts int
}

// NewClient creates a client for the given marketplace configuration.
func NewClient(cfg Config, httpClient *http.Client, log *logger.Logger) (*Client, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("amazon: access key and secret key required")
	}
	if cfg.PartnerTag == "" {
		return nil, errors.New("amazon: partner tag required")
	}
	if cfg.Host == "" || cfg.Region == "" {
		return nil, errors.New("amazon: host and region required")
	}
	if cfg.Marketplace == "" {
		return nil, errors.New("amazon: marketplace required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("amazon-client")
	}
	return &Client{
		httpClient:  httpClient,
		signer:      NewSigner(cfg.AccessKey, cfg.SecretKey, cfg.Region),
		host:        cfg.Host,
		baseURL:     "https://" + cfg.Host,
		partnerTag:  cfg.PartnerTag,
		marketplace: cfg.Marketplace,
		log:         log,
		gate:        make(chan struct{}, 1),
		sleep:       sleepContext,
		maxAttempts: defaultMaxAttempts,
	}, nil
}

type searchItemsRequest struct {
	Keywords    string   `json:"Keywords"`
	SearchIndex string   `json:"SearchIndex"`
	PartnerTag  string   `json:"PartnerTag"`
	PartnerType string   `json:"PartnerType"`
	Marketplace string   `json:"Marketplace"`
	Resources   []string `json:"Resources"`
	ItemCount   int      `json:"ItemCount"`
}

type getItemsRequest struct {
	ItemIds     []string `json:"ItemIds"`
	PartnerTag  string   `json:"PartnerTag"`
	PartnerType string   `json:"PartnerType"`
	Marketplace string   `json:"Marketplace"`
	Resources   []string `json:"Resources"`
}

type apiResponse struct {
	SearchResult *itemList `json:"SearchResult"`
	ItemsResult  *itemList `json:"ItemsResult"`
}

type itemList struct {
	Items []apiItem `json:"Items"`
}

type apiItem struct {
	ASIN          string `json:"ASIN"`
	DetailPageURL string `json:"DetailPageURL"`
	ItemInfo      *struct {
		Title *struct {
			DisplayValue string `json:"DisplayValue"`
		} `json:"Title"`
	} `json:"ItemInfo"`
	Images *struct {
		Primary *struct {
			Large *struct {
				URL string `json:"URL"`
			} `json:"Large"`
		} `json:"Primary"`
	} `json:"Images"`
	Offers *struct {
		Listings []struct {
			Price *struct {
				Amount float64 `json:"Amount"`
			} `json:"Price"`
		} `json:"Listings"`
	} `json:"Offers"`
	BrowseNodeInfo *struct {
		BrowseNodes []struct {
			DisplayName string `json:"DisplayName"`
		} `json:"BrowseNodes"`
	} `json:"BrowseNodeInfo"`
}

// SearchItems queries the catalog by keywords. pageSize values outside
// 1..MaxBatchSize fall back to the catalog maximum of ten results.
func (c *Client) SearchItems(ctx context.Context, keywords string, pageSize int) ([]Item, error) {
	if keywords == "" {
		return nil, errors.New("amazon: keywords required")
	}
	if pageSize < 1 || pageSize > MaxBatchSize {
		pageSize = MaxBatchSize
	}
	body := searchItemsRequest{
		Keywords:    keywords,
		SearchIndex: "All",
		PartnerTag:  c.partnerTag,
		PartnerType: "Associates",
		Marketplace: c.marketplace,
		Resources:   searchResources,
		ItemCount:   pageSize,
	}

	resp, err := c.call(ctx, searchItemsPath, searchItemsTarget, body)
	if err != nil {
		return nil, err
	}
	if resp.SearchResult == nil {
		return nil, nil
	}
	return normalizeItems(resp.SearchResult.Items), nil
}

// GetItems looks up current listings for up to MaxBatchSize ASINs.
func (c *Client) GetItems(ctx context.Context, asins []string) ([]Item, error) {
	if len(asins) == 0 {
		return nil, errors.New("amazon: at least one asin required")
	}
	if len(asins) > MaxBatchSize {
		return nil, fmt.Errorf("amazon: at most %d asins per call", MaxBatchSize)
	}
	body := getItemsRequest{
		ItemIds:     asins,
		PartnerTag:  c.partnerTag,
		PartnerType: "Associates",
		Marketplace: c.marketplace,
		Resources:   itemResources,
	}

	resp, err := c.call(ctx, getItemsPath, getItemsTarget, body)
	if err != nil {
		return nil, err
	}
	if resp.ItemsResult == nil {
		return nil, nil
	}
	return normalizeItems(resp.ItemsResult.Items), nil
}

// call serializes the request through the gate, retries throttled attempts
// and paces after a completed request so the next caller cannot fire early.
func (c *Client) call(ctx context.Context, path, target string, body any) (*apiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.gate }()

	resp, err := c.callWithRetry(ctx, path, target, payload)
	if err != nil {
		return nil, err
	}

	// Hold the gate through the pacing delay. A cancelled context stops the
	// wait but does not fail the request that already completed.
	_ = c.sleep(ctx, pacingDelay)
	return resp, nil
}

func (c *Client) callWithRetry(ctx context.Context, path, target string, payload []byte) (*apiResponse, error) {
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		resp, err := c.send(ctx, path, target, payload)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrThrottled) {
			return nil, err
		}
		if attempt == c.maxAttempts-1 {
			break
		}

		delay := baseRetryDelay * time.Duration(2<<attempt)
		c.log.WithField("target", target).
			WithField("attempt", attempt+1).
			Warnf("throttled, retrying in %s", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, ErrMaxRetries
}

func (c *Client) send(ctx context.Context, path, target string, payload []byte) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	for name, value := range c.signer.SignedHeaders(c.host, path, target, payload) {
		req.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrThrottled
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("amazon: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("amazon: decode response: %w", err)
	}
	return &decoded, nil
}

func normalizeItems(items []apiItem) []Item {
	var result []Item
	for _, raw := range items {
		if raw.ASIN == "" {
			continue
		}
		item := Item{
			ASIN:      raw.ASIN,
			DetailURL: raw.DetailPageURL,
		}
		if raw.ItemInfo != nil && raw.ItemInfo.Title != nil {
			item.Title = raw.ItemInfo.Title.DisplayValue
		}
		if raw.Images != nil && raw.Images.Primary != nil && raw.Images.Primary.Large != nil {
			item.ImageURL = raw.Images.Primary.Large.URL
		}
		if raw.Offers != nil && len(raw.Offers.Listings) > 0 && raw.Offers.Listings[0].Price != nil {
			amount := raw.Offers.Listings[0].Price.Amount
			item.Price = &amount
		}
		if raw.BrowseNodeInfo != nil && len(raw.BrowseNodeInfo.BrowseNodes) > 0 {
			item.Category = raw.BrowseNodeInfo.BrowseNodes[0].DisplayName
		}
		result = append(result, item)
	}
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
