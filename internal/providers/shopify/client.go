package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrMissingToken is returned when no access token was supplied.
var ErrMissingToken = errors.New("shopify: access token is required")

// HTTPDoer issues outbound HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProductInput describes the listing to create.
type ProductInput struct {
	Title           string
	DescriptionHTML string
	Tags            []string
	ImageURLs       []string
	Published       bool
}

// Product identifies a created catalog product.
type Product struct {
	ID       string
	AdminURL string
}

// Client publishes products to one shop. The transport is expected to be
// the retrying publish transport; this type only speaks the wire protocol.
type Client struct {
	shopDomain string
	token      string
	apiVersion string
	httpClient HTTPDoer
}

// NewClient builds a Client for the shop. A nil doer uses a default client.
func NewClient(shopDomain, token, apiVersion string, doer HTTPDoer) (*Client, error) {
	if strings.TrimSpace(shopDomain) == "" {
		return nil, errors.New("shopify: shop domain is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	if doer == nil {
		doer = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		shopDomain: strings.TrimSpace(shopDomain),
		token:      strings.TrimSpace(token),
		apiVersion: strings.TrimSpace(apiVersion),
		httpClient: doer,
	}, nil
}

const productCreateMutation = `mutation productCreate($input: ProductInput!) {
  productCreate(input: $input) {
    product { id }
    userErrors { field message }
  }
}`

// CreateProductGraphQL creates the product through the structured mutation.
// Images are not part of this path; callers attach them afterwards.
func (c *Client) CreateProductGraphQL(ctx context.Context, input ProductInput) (Product, error) {
	variables := map[string]any{
		"input": map[string]any{
			"title":           input.Title,
			"descriptionHtml": input.DescriptionHTML,
			"tags":            input.Tags,
		},
	}
	payload := map[string]any{"query": productCreateMutation, "variables": variables}

	raw, err := c.post(ctx, fmt.Sprintf("%s/admin/api/%s/graphql.json", c.baseURL(), c.apiVersion), payload)
	if err != nil {
		return Product{}, err
	}

	var decoded struct {
		Data struct {
			ProductCreate struct {
				Product struct {
					ID string `json:"id"`
				} `json:"product"`
				UserErrors []struct {
					Message string `json:"message"`
				} `json:"userErrors"`
			} `json:"productCreate"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Product{}, fmt.Errorf("shopify: decode graphql response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return Product{}, fmt.Errorf("shopify: graphql error: %s", decoded.Errors[0].Message)
	}
	if userErrors := decoded.Data.ProductCreate.UserErrors; len(userErrors) > 0 {
		return Product{}, fmt.Errorf("shopify: productCreate rejected: %s", userErrors[0].Message)
	}

	numericID := NumericProductID(decoded.Data.ProductCreate.Product.ID)
	if numericID == "" {
		return Product{}, errors.New("shopify: productCreate returned no product id")
	}
	return Product{ID: numericID, AdminURL: c.adminURL(numericID)}, nil
}

// CreateProductREST creates the product through the legacy flat endpoint,
// which accepts images inline.
func (c *Client) CreateProductREST(ctx context.Context, input ProductInput) (Product, error) {
	images := make([]map[string]string, 0, len(input.ImageURLs))
	for _, src := range input.ImageURLs {
		if strings.TrimSpace(src) != "" {
			images = append(images, map[string]string{"src": src})
		}
	}

	payload := map[string]any{
		"product": map[string]any{
			"title":     input.Title,
			"body_html": input.DescriptionHTML,
			"tags":      strings.Join(input.Tags, ", "),
			"status":    restStatus(input.Published),
			"images":    images,
		},
	}

	raw, err := c.post(ctx, fmt.Sprintf("%s/admin/api/%s/products.json", c.baseURL(), c.apiVersion), payload)
	if err != nil {
		return Product{}, err
	}

	var decoded struct {
		Product struct {
			ID int64 `json:"id"`
		} `json:"product"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Product{}, fmt.Errorf("shopify: decode rest response: %w", err)
	}
	if decoded.Product.ID == 0 {
		return Product{}, errors.New("shopify: rest create returned no product id")
	}

	id := strconv.FormatInt(decoded.Product.ID, 10)
	return Product{ID: id, AdminURL: c.adminURL(id)}, nil
}

// AttachImage adds one image to an existing product via the legacy endpoint.
func (c *Client) AttachImage(ctx context.Context, productID, imageURL string) error {
	payload := map[string]any{"image": map[string]string{"src": imageURL}}
	endpoint := fmt.Sprintf("%s/admin/api/%s/products/%s/images.json", c.baseURL(), c.apiVersion, productID)
	if _, err := c.post(ctx, endpoint, payload); err != nil {
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("shopify: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("shopify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shopify: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("shopify: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("shopify: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, nil
}

// baseURL treats a shop domain carrying an explicit scheme as a full base,
// which lets local test servers stand in for a real shop.
func (c *Client) baseURL() string {
	if strings.Contains(c.shopDomain, "://") {
		return strings.TrimRight(c.shopDomain, "/")
	}
	return "https://" + c.shopDomain
}

func (c *Client) adminURL(productID string) string {
	return fmt.Sprintf("%s/admin/products/%s", c.baseURL(), productID)
}

// NumericProductID strips the gid://shopify/Product/ prefix from a GraphQL id.
func NumericProductID(gid string) string {
	trimmed := strings.TrimSpace(gid)
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

func restStatus(published bool) string {
	if published {
		return "active"
	}
	return "draft"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
