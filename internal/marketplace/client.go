package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phonginreallife/autoanswer/db"
)

const (
	DefaultBaseURL = "https://api.mercadolibre.com"
	pageSize       = 50
)

var (
	// ErrUnauthorized means the marketplace rejected the access token.
	ErrUnauthorized = errors.New("marketplace: access token rejected")
	// ErrRejected means the marketplace answered with a non-success status.
	ErrRejected = errors.New("marketplace: request rejected")
	// ErrTransport covers timeouts and connection failures.
	ErrTransport = errors.New("marketplace: transport failure")
)

// IsTransient reports whether err says nothing about the token itself:
// transport failures, rate limiting and server errors.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransport) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}

// APIError carries the status and body of a non-success response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace API error: status=%d body=%s", e.StatusCode, e.Body)
}

// Unwrap lets callers match with errors.Is(err, ErrUnauthorized) or ErrRejected.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return ErrRejected
}

// Config configures a Client.
type Config struct {
	BaseURL      string
	SellerID     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client handles communication with the marketplace API
type Client struct {
	baseURL      string
	sellerID     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewClient creates a marketplace API client. Every call is bounded by
// cfg.Timeout (10 seconds when unset).
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      baseURL,
		sellerID:     cfg.SellerID,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

type questionsResponse struct {
	Total     int           `json:"total"`
	Limit     int           `json:"limit"`
	Questions []db.Question `json:"questions"`
}

// FetchUnansweredQuestions pages through the seller's unanswered questions.
func (c *Client) FetchUnansweredQuestions(ctx context.Context, accessToken string) ([]db.Question, error) {
	var all []db.Question
	offset := 0

	for {
		q := url.Values{}
		q.Set("seller_id", c.sellerID)
		q.Set("status", db.QuestionStatusUnanswered)
		q.Set("api_version", "4")
		q.Set("offset", fmt.Sprintf("%d", offset))
		q.Set("limit", fmt.Sprintf("%d", pageSize))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/questions/search?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		var page questionsResponse
		if err := c.doJSON(req, &page); err != nil {
			return nil, err
		}

		all = append(all, page.Questions...)

		if len(page.Questions) == 0 || offset+pageSize >= page.Total {
			break
		}
		offset += pageSize
	}

	return all, nil
}

// PostAnswer publishes text as the answer to questionID.
func (c *Client) PostAnswer(ctx context.Context, accessToken string, questionID int64, text string) error {
	body, err := json.Marshal(map[string]interface{}{
		"question_id": questionID,
		"text":        text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/answers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	return c.doJSON(req, nil)
}

// TokenGrant is the result of a refresh-token exchange.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	UserID       int64  `json:"user_id"`
}

// RefreshToken exchanges refreshToken for a new access token. The
// marketplace may rotate the refresh token, so callers must keep the
// returned one.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var grant TokenGrant
	if err := c.doJSON(req, &grant); err != nil {
		return nil, err
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("%w: refresh returned empty access token", ErrRejected)
	}
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}
	return &grant, nil
}

// ProbeToken makes a lightweight authenticated call. It returns nil only
// when the marketplace accepted the token.
func (c *Client) ProbeToken(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/me", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.doJSON(req, nil)
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
