// Package shipping предоставляет клиент внешнего сервиса тарифов доставки.
package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/validation"
)

// DefaultBaseURL содержит адрес API сервиса доставки.
const DefaultBaseURL = "https://api.goshippo.com"

// ErrNotConfigured возвращается, если не задан ключ API.
var ErrNotConfigured = errors.New("shipping provider api key is not configured")

// APIError описывает неуспешный ответ сервиса доставки.
type APIError struct {
	StatusCode int
	Path       string
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shipping provider %s: status %d: %s", e.Path, e.StatusCode, e.Detail)
}

// Client инкапсулирует HTTP-взаимодействие с сервисом доставки.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
}

// Rate описывает ответ сервиса доставки по одному тарифу.
type Rate struct {
	ObjectID string `json:"object_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Provider string `json:"provider,omitempty"`
}

// NewClient создаёт клиент сервиса доставки. Идемпотентные запросы повторяются до двух раз.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: rc,
	}
}

// GetRate запрашивает тариф по идентификатору и переводит сумму в минимальные единицы валюты.
func (c *Client) GetRate(ctx context.Context, rateID string) (*model.ShippingRate, error) {
	if c == nil || c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	path := fmt.Sprintf("/rates/%s/", url.PathEscape(rateID))

	var rate Rate
	if err := c.get(ctx, path, &rate); err != nil {
		return nil, err
	}

	amount, err := validation.ToMinorUnits(model.StringOf(rate.Amount))
	if err != nil {
		return nil, fmt.Errorf("parse rate amount %q: %w", rate.Amount, err)
	}

	id := rate.ObjectID
	if id == "" {
		id = rateID
	}

	return &model.ShippingRate{
		RateID:   id,
		Amount:   amount,
		Currency: strings.ToLower(strings.TrimSpace(rate.Currency)),
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "ShippoToken "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Path:       path,
			Detail:     errorDetail(body, resp.StatusCode),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func errorDetail(body []byte, status int) string {
	var parsed struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != nil {
		return fmt.Sprint(parsed.Detail)
	}
	return fmt.Sprintf("Shipping request failed with HTTP %d.", status)
}
