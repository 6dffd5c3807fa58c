// Package hh is the REST and OAuth client for the hh.ru applicant API.
//
// Token refresh is deliberately not implemented: expiry is stored by the
// caller but never acted on, matching the behavior of the deployment this
// service replaces. Revoked or expired tokens surface as request errors and
// the affected user is skipped until they re-link.
package hh

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

	"golang.org/x/oauth2"
)

const (
	defaultAPIBaseURL   = "https://api.hh.ru"
	defaultOAuthBaseURL = "https://hh.ru"
	defaultTimeout      = 10 * time.Second
)

// Config holds hh.ru application credentials and endpoint overrides.
type Config struct {
	ClientID     string
	ClientSecret string

	// UserAgent is sent as the HH-User-Agent header, mandatory on every
	// API call per the hh.ru terms.
	UserAgent string

	// RedirectURL is the OAuth callback registered with hh.ru.
	RedirectURL string

	APIBaseURL   string // defaults to https://api.hh.ru
	OAuthBaseURL string // defaults to https://hh.ru

	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the hh.ru API with per-request bearer credentials.
type Client struct {
	cfg   Config
	http  *http.Client
	oauth *oauth2.Config
}

// NewClient validates the configuration and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("hh client: client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("hh client: client secret is required")
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, errors.New("hh client: user agent is required")
	}

	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.OAuthBaseURL == "" {
		cfg.OAuthBaseURL = defaultOAuthBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.OAuthBaseURL = strings.TrimRight(cfg.OAuthBaseURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.OAuthBaseURL + "/oauth/authorize",
			TokenURL: cfg.APIBaseURL + "/token",
		},
	}

	return &Client{cfg: cfg, http: httpClient, oauth: oauthCfg}, nil
}

// AuthCodeURL returns the hh.ru authorization URL; state carries the
// Telegram chat id through the redirect round trip.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode swaps an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("hh client: exchange code: %w", err)
	}
	return token, nil
}

// Account describes the authenticated hh.ru user.
type Account struct {
	ID        json.Number `json:"id"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Email     string      `json:"email"`
}

// Me returns the account behind the access token.
func (c *Client) Me(ctx context.Context, accessToken string) (*Account, error) {
	var out Account
	if err := c.getJSON(ctx, accessToken, "/me", nil, &out); err != nil {
		return nil, err
	}
	if out.ID.String() == "" {
		return nil, errors.New("hh client: me response has no account id")
	}
	return &out, nil
}

// Negotiation is one conversation thread between the applicant and an employer.
type Negotiation struct {
	ID      json.Number `json:"id"`
	TopicID json.Number `json:"topic_id"`
}

// ObjectID returns the identifier used to address the thread, preferring the
// negotiation id and falling back to the topic id.
func (n Negotiation) ObjectID() string {
	if id := n.ID.String(); id != "" {
		return id
	}
	return n.TopicID.String()
}

// Negotiations lists the applicant's active conversation threads.
func (c *Client) Negotiations(ctx context.Context, accessToken string) ([]Negotiation, error) {
	var out struct {
		Items []Negotiation `json:"items"`
	}
	if err := c.getJSON(ctx, accessToken, "/negotiations", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Message is a single chat message within a negotiation.
type Message struct {
	ID     json.Number `json:"id"`
	Text   string      `json:"text"`
	Author struct {
		Me bool `json:"me"`
	} `json:"author"`
}

// NegotiationMessages lists messages in a thread, restricted to ones that
// carry text.
func (c *Client) NegotiationMessages(ctx context.Context, accessToken, negotiationID string) ([]Message, error) {
	if strings.TrimSpace(negotiationID) == "" {
		return nil, errors.New("hh client: negotiation id is required")
	}

	var out struct {
		Items []Message `json:"items"`
	}
	query := url.Values{"with_text_only": {"true"}}
	path := "/negotiations/" + url.PathEscape(negotiationID) + "/messages"
	if err := c.getJSON(ctx, accessToken, path, query, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// SubscribeWebhooks registers this service for push events about new
// responses/invitations and employer state changes.
func (c *Client) SubscribeWebhooks(ctx context.Context, accessToken, callbackURL string) error {
	body := map[string]any{
		"url": callbackURL,
		"actions": []map[string]string{
			{"type": "NEW_RESPONSE_OR_INVITATION_VACANCY"},
			{"type": "NEGOTIATION_EMPLOYER_STATE_CHANGE"},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("hh client: marshal subscription: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/webhook/subscriptions", nil, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hh client: subscribe webhooks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError("subscribe webhooks", resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, accessToken, path string, query url.Values, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hh client: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("hh client: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.cfg.APIBaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("hh client: build request: %w", err)
	}
	req.Header.Set("HH-User-Agent", c.cfg.UserAgent)
	return req, nil
}

func apiError(operation string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("hh client: %s: status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
