// Package client is a Go SDK for the ledger API plus the per-session view
// state a front end keeps: trend window selection, staged history filters
// and live change notifications.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"dialysis-ledger/internal/domain"
	"dialysis-ledger/internal/export"
	httpapi "dialysis-ledger/internal/http"
	"dialysis-ledger/internal/ledger"
	"dialysis-ledger/internal/service"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrUnauthorized the API rejected the bearer token; sign in again.
var ErrUnauthorized = errors.New("unauthorized")

// APIError a request the API answered with a non-success envelope.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (code %d): %s", e.Status, e.Code, e.Message)
}

// Client talks to one ledger-api instance on behalf of one signed-in user.
type Client struct {
	http   *resty.Client
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{http: rc, logger: logger}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetAuthToken(c.Token())
}

// decode unwraps the Result envelope.
func decode[T any](resp *resty.Response, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, fmt.Errorf("request failed: %w", err)
	}
	var env httpapi.Result[T]
	if uerr := json.Unmarshal(resp.Body(), &env); uerr != nil {
		return zero, &APIError{Status: resp.StatusCode(), Code: httpapi.ResultError, Message: strings.TrimSpace(string(resp.Body()))}
	}
	switch {
	case env.Code == httpapi.ResultTokenExpired || resp.StatusCode() == http.StatusUnauthorized:
		return zero, fmt.Errorf("%w: %s", ErrUnauthorized, env.Message)
	case env.Code != httpapi.ResultSuccess:
		return zero, &APIError{Status: resp.StatusCode(), Code: env.Code, Message: env.Message}
	}
	return env.Result, nil
}

// Signup creates the account and keeps the returned token.
func (c *Client) Signup(ctx context.Context, req service.SignupRequest) (*service.AuthResponse, error) {
	auth, err := decode[*service.AuthResponse](c.request(ctx).SetBody(req).Post("/api/v1/auth/signup"))
	if err != nil {
		return nil, err
	}
	c.SetToken(auth.Token)
	return auth, nil
}

// Login keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*service.AuthResponse, error) {
	auth, err := decode[*service.AuthResponse](c.request(ctx).
		SetBody(service.LoginRequest{Email: email, Password: password}).
		Post("/api/v1/auth/login"))
	if err != nil {
		return nil, err
	}
	c.SetToken(auth.Token)
	return auth, nil
}

func (c *Client) Profile(ctx context.Context) (*service.ProfileResponse, error) {
	return decode[*service.ProfileResponse](c.request(ctx).Get("/api/v1/profile"))
}

func (c *Client) Dashboard(ctx context.Context) (*service.DashboardSummary, error) {
	return decode[*service.DashboardSummary](c.request(ctx).Get("/api/v1/dashboard"))
}

func (c *Client) ListPD(ctx context.Context) ([]domain.PDExchange, error) {
	return decode[[]domain.PDExchange](c.request(ctx).Get("/api/v1/pd-exchanges"))
}

func (c *Client) CreatePD(ctx context.Context, req service.CreatePDRequest) (*domain.PDExchange, error) {
	return decode[*domain.PDExchange](c.request(ctx).SetBody(req).Post("/api/v1/pd-exchanges"))
}

// UpdatePD returns the stored representation, uf included.
func (c *Client) UpdatePD(ctx context.Context, id string, req service.UpdatePDRequest) (*domain.PDExchange, error) {
	return decode[*domain.PDExchange](c.request(ctx).SetBody(req).SetPathParam("id", id).Put("/api/v1/pd-exchanges/{id}"))
}

func (c *Client) DeletePD(ctx context.Context, id string) error {
	_, err := decode[any](c.request(ctx).SetPathParam("id", id).Delete("/api/v1/pd-exchanges/{id}"))
	return err
}

func (c *Client) ListHD(ctx context.Context) ([]domain.HDExchange, error) {
	return decode[[]domain.HDExchange](c.request(ctx).Get("/api/v1/hd-exchanges"))
}

func (c *Client) CreateHD(ctx context.Context, req service.CreateHDRequest) (*domain.HDExchange, error) {
	return decode[*domain.HDExchange](c.request(ctx).SetBody(req).Post("/api/v1/hd-exchanges"))
}

func (c *Client) DeleteHD(ctx context.Context, id string) error {
	_, err := decode[any](c.request(ctx).SetPathParam("id", id).Delete("/api/v1/hd-exchanges/{id}"))
	return err
}

func historyParams(cfg ledger.FilterConfig) map[string]string {
	p := map[string]string{}
	if cfg.WeightCategory != ledger.WeightAny {
		p["weight_category"] = string(cfg.WeightCategory)
	}
	if cfg.UFMin != nil {
		p["uf_min"] = strconv.FormatFloat(*cfg.UFMin, 'f', -1, 64)
	}
	if cfg.UFMax != nil {
		p["uf_max"] = strconv.FormatFloat(*cfg.UFMax, 'f', -1, 64)
	}
	if cfg.Strength != "" {
		p["strength"] = string(cfg.Strength)
	}
	if cfg.Date != "" {
		p["date"] = cfg.Date
	}
	return p
}

func (c *Client) History(ctx context.Context, cfg ledger.FilterConfig) (*service.HistoryView, error) {
	return decode[*service.HistoryView](c.request(ctx).SetQueryParams(historyParams(cfg)).Get("/api/v1/history"))
}

func (c *Client) Trends(ctx context.Context, window ledger.Window) (*ledger.TrendSeries, error) {
	resp, err := decode[*httpapi.TrendResponse](c.request(ctx).
		SetQueryParam("window", string(window)).
		Get("/api/v1/trends"))
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.TrendSeries == nil {
		return &ledger.TrendSeries{Window: window}, nil
	}
	return resp.TrendSeries, nil
}

// ExportHistory downloads the filtered history and returns it with the server-chosen filename.
func (c *Client) ExportHistory(ctx context.Context, format export.Format, cfg ledger.FilterConfig) ([]byte, string, error) {
	params := historyParams(cfg)
	params["format"] = string(format)
	resp, err := c.request(ctx).SetQueryParams(params).Get("/api/v1/history/export")
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	if strings.HasPrefix(resp.Header().Get("Content-Type"), "application/json") {
		_, err := decode[any](resp, nil)
		if err == nil {
			err = &APIError{Status: resp.StatusCode(), Code: httpapi.ResultError, Message: "unexpected JSON export body"}
		}
		return nil, "", err
	}
	filename := format.Filename(domain.CivilFrom(time.Now()))
	if _, params, perr := mime.ParseMediaType(resp.Header().Get("Content-Disposition")); perr == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return resp.Body(), filename, nil
}
