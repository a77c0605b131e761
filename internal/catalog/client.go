package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/commercekit/ordercore/pkg/httpclient"
)

// Variant is the catalog's view of a sellable variant, used to snapshot
// price, name and SKU onto order items.
type Variant struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Price     int64  `json:"price"`
	Currency  string `json:"currency"`
	Active    bool   `json:"active"`
}

// HTTPDoer executes an HTTP request. Both httpclient.Client and
// httpclient.CircuitBreakerClient satisfy it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client looks up variants in the catalog service. Lookups are for pricing
// and display only; stock truth lives in this service's ledger.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
}

// NewClient creates a catalog client against the given base URL.
func NewClient(baseURL string, httpClient HTTPDoer) *Client {
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// GetVariant fetches a single variant. A 404 from the catalog surfaces as
// ErrNotFound so callers can reject the order line.
func (c *Client) GetVariant(ctx context.Context, variantID string) (*Variant, error) {
	reqURL := fmt.Sprintf("%s/api/v1/variants/%s", c.baseURL, url.PathEscape(variantID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call catalog: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "catalog")
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Data Variant `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}

	return &envelope.Data, nil
}
