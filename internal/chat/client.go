// Package chat talks to the CometChat REST API: user creation, contact
// (friend) links and per-user auth tokens.
package chat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type Config struct {
	AppID  string
	Region string
	APIKey string
	// BaseURL overrides https://{AppID}.api-{Region}.cometchat.io.
	BaseURL string
	Timeout time.Duration
}

// APIError is returned for any non-2xx response.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

type Client struct {
	baseURL string
	appID   string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.AppID == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("chat: app id and api key required")
	}
	base := cfg.BaseURL
	if base == "" {
		if cfg.Region == "" {
			return nil, fmt.Errorf("chat: region required without base url")
		}
		base = fmt.Sprintf("https://%s.api-%s.cometchat.io", cfg.AppID, cfg.Region)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		appID:   cfg.AppID,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}, nil
}

type friendsRequest struct {
	Accepted []string `json:"accepted"`
}

// AddFriends makes uid and each of friendIDs mutual contacts.
func (c *Client) AddFriends(ctx context.Context, uid string, friendIDs ...string) error {
	path := "/v3/users/" + url.PathEscape(uid) + "/friends"
	return c.do(ctx, "add friends", http.MethodPost, path, friendsRequest{Accepted: friendIDs}, nil)
}

type User struct {
	UID    string `json:"uid"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

func (c *Client) CreateUser(ctx context.Context, u User) error {
	return c.do(ctx, "create user", http.MethodPost, "/v3/users", u, nil)
}

type authTokenResponse struct {
	Data struct {
		AuthToken string `json:"authToken"`
	} `json:"data"`
}

// CreateAuthToken issues a token the user's chat SDK logs in with.
func (c *Client) CreateAuthToken(ctx context.Context, uid string) (string, error) {
	var out authTokenResponse
	path := "/v3/users/" + url.PathEscape(uid) + "/auth_tokens"
	if err := c.do(ctx, "create auth token", http.MethodPost, path, struct{}{}, &out); err != nil {
		return "", err
	}
	return out.Data.AuthToken, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("chat: %s: encode: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chat: %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("appId", c.appID)
	req.Header.Set("apiKey", c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat: %s: %w", op, err)
	}
	defer resp.Body.Close()

	c.log.Debug("chat.Client request done",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chat: %s: decode: %w", op, err)
	}
	return nil
}
