package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Client is the order side's view of the stock ledger. Every call carries its
// own deadline; a blown deadline surfaces as ErrTimeout instead of hanging
// the placement.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
}

// wire envelope, mirrors httpx responses
type envelope struct {
	OK         bool            `json:"ok"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func (c *Client) Reserve(ctx context.Context, orderID, productID string, qty int) (*Reserved, error) {
	body, _ := json.Marshal(ReserveRequest{OrderID: orderID, ProductID: productID, Qty: qty})

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/reservations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, mapNetErr(err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode reserve response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var rv Reserved
		if err := json.Unmarshal(env.Data, &rv); err != nil {
			return nil, fmt.Errorf("decode reserved: %w", err)
		}
		return &rv, nil
	case http.StatusNotFound:
		return nil, ErrProductNotFound
	case http.StatusConflict:
		// insufficient stock carries detail data; a fenced order does not
		if len(env.Data) == 0 {
			return nil, ErrOrderClosed
		}
		var ise InsufficientStockError
		if err := json.Unmarshal(env.Data, &ise); err != nil {
			return nil, fmt.Errorf("decode conflict: %w", err)
		}
		return nil, &ise
	case http.StatusBadRequest:
		return nil, ErrBadQuantity
	default:
		return nil, fmt.Errorf("inventory reserve: unexpected status %d: %s", resp.StatusCode, env.Message)
	}
}

func (c *Client) ReleaseOrder(ctx context.Context, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/reservations/"+orderID, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return mapNetErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inventory release: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func mapNetErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return err
}
