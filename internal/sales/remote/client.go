// Package remote is a typed HTTP client for the fiado API, used by the smoke
// CLI and fit for embedding in other Go services.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fiado.app/internal/sales"
)

// Client talks to one fiado API instance.
type Client struct {
	base string
	http *http.Client
}

// New builds a client for the given base URL, e.g. "http://localhost:8080".
func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api error %d: %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (c *Client) CreateProduct(ctx context.Context, req map[string]any) (sales.Product, error) {
	var out sales.Product
	err := c.do(ctx, http.MethodPost, "/v1/products", "", req, &out)
	return out, err
}

func (c *Client) GetProduct(ctx context.Context, id string) (sales.Product, error) {
	var out sales.Product
	err := c.do(ctx, http.MethodGet, "/v1/products/"+url.PathEscape(id), "", nil, &out)
	return out, err
}

func (c *Client) CreateCustomer(ctx context.Context, req map[string]any) (sales.Customer, error) {
	var out sales.Customer
	err := c.do(ctx, http.MethodPost, "/v1/customers", "", req, &out)
	return out, err
}

func (c *Client) CreateSale(ctx context.Context, req map[string]any) (sales.SaleDetail, error) {
	var out sales.SaleDetail
	err := c.do(ctx, http.MethodPost, "/v1/sales", "", req, &out)
	return out, err
}

func (c *Client) GetSale(ctx context.Context, id string) (sales.SaleDetail, error) {
	var out sales.SaleDetail
	err := c.do(ctx, http.MethodGet, "/v1/sales/"+url.PathEscape(id), "", nil, &out)
	return out, err
}

func (c *Client) ListSales(ctx context.Context, limit int, after string) ([]sales.Sale, string, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if after != "" {
		q.Set("after", after)
	}
	path := "/v1/sales"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out struct {
		Items     []sales.Sale `json:"items"`
		NextAfter string       `json:"next_after"`
	}
	err := c.do(ctx, http.MethodGet, path, "", nil, &out)
	return out.Items, out.NextAfter, err
}

// ApplyPayment posts a payment; idemKey, when non-empty, is sent as the
// Idempotency-Key header so retries replay instead of double-applying.
func (c *Client) ApplyPayment(ctx context.Context, saleID string, req map[string]any, idemKey string) (sales.PaymentResult, error) {
	var out sales.PaymentResult
	err := c.do(ctx, http.MethodPost, "/v1/sales/"+url.PathEscape(saleID)+"/payments", idemKey, req, &out)
	return out, err
}

func (c *Client) Healthz(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, idemKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg, RequestID: envelope.RequestID}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
