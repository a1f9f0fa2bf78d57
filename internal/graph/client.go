// Package graph provides a client for the Meta Graph API endpoints used by
// the relay: OAuth code/token exchange, profile lookup, Page enumeration,
// Instagram account lookup, and webhook subscription registration.
//
// The client is explicitly constructed and dependency-injected (no package
// globals): the base URL and HTTP client are fields so tests can point it at
// an httptest server. All operations take a context and return explicit
// errors; a Graph-level failure is surfaced as *APIError carrying the
// platform's message, type, code, and trace id.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dmelis/go-page-relay/internal/config"
)

// Client calls the Meta Graph API. Construct with NewClient.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	appID       string
	appSecret   string
	redirectURI string
}

// NewClient creates a Graph API client from the platform configuration.
func NewClient(cfg config.MetaConfig) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.GraphTimeout},
		baseURL:     strings.TrimRight(cfg.GraphBaseURL, "/"),
		appID:       cfg.AppID,
		appSecret:   cfg.AppSecret,
		redirectURI: cfg.RedirectURI,
	}
}

// Token is an access token returned by the OAuth token endpoints.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // seconds; 0 when the platform omits it
}

// Profile identifies the authenticated platform user.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InstagramAccount is the Instagram Business account linked to a Page.
type InstagramAccount struct {
	ID string `json:"id"`
}

// PageAccount is one Page the user manages, with its Page-scoped token and
// optional linked Instagram Business account.
type PageAccount struct {
	ID                       string            `json:"id"`
	Name                     string            `json:"name"`
	AccessToken              string            `json:"access_token"`
	InstagramBusinessAccount *InstagramAccount `json:"instagram_business_account,omitempty"`
}

// APIError is the decoded Graph error envelope
// ({"error":{"message","type","code","fbtrace_id"}}).
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	TraceID string `json:"fbtrace_id"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error: %s (type: %s, code: %d, trace: %s)", e.Message, e.Type, e.Code, e.TraceID)
}

// errEnvelope wraps the error field the platform attaches to failed calls.
type errEnvelope struct {
	Error *APIError `json:"error"`
}

// ExchangeCode exchanges an OAuth authorization code for a short-lived user
// access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	q := url.Values{
		"client_id":     {c.appID},
		"client_secret": {c.appSecret},
		"redirect_uri":  {c.redirectURI},
		"code":          {code},
	}
	var tok Token
	if err := c.get(ctx, "/oauth/access_token", q, &tok); err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("exchange code: no access token in response")
	}
	log.Debug().Msg("short-lived token obtained")
	return &tok, nil
}

// ExchangeLongLivedToken exchanges a short-lived user token for a long-lived
// one (valid for roughly 60 days).
func (c *Client) ExchangeLongLivedToken(ctx context.Context, shortToken string) (*Token, error) {
	q := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.appID},
		"client_secret":     {c.appSecret},
		"fb_exchange_token": {shortToken},
	}
	var tok Token
	if err := c.get(ctx, "/oauth/access_token", q, &tok); err != nil {
		return nil, fmt.Errorf("exchange long-lived token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("exchange long-lived token: no access token in response")
	}
	log.Debug().Int64("expires_in", tok.ExpiresIn).Msg("long-lived token obtained")
	return &tok, nil
}

// Me fetches the authenticated user's platform identifier and display name.
func (c *Client) Me(ctx context.Context, accessToken string) (*Profile, error) {
	q := url.Values{
		"fields":       {"id,name"},
		"access_token": {accessToken},
	}
	var p Profile
	if err := c.get(ctx, "/me", q, &p); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("fetch profile: no user id in response")
	}
	return &p, nil
}

// accountsResponse is the list envelope returned by /me/accounts.
type accountsResponse struct {
	Data []PageAccount `json:"data"`
}

// ListAccounts enumerates the Pages the user manages, each with its
// Page-scoped access token and optional linked Instagram Business account.
func (c *Client) ListAccounts(ctx context.Context, accessToken string) ([]PageAccount, error) {
	q := url.Values{
		"fields":       {"id,name,access_token,instagram_business_account"},
		"access_token": {accessToken},
	}
	var resp accountsResponse
	if err := c.get(ctx, "/me/accounts", q, &resp); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return resp.Data, nil
}

// igUsernameResponse is the response for GET /{ig-id}?fields=username.
type igUsernameResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// InstagramUsername fetches the username of an Instagram Business account.
func (c *Client) InstagramUsername(ctx context.Context, igID, pageToken string) (string, error) {
	q := url.Values{
		"fields":       {"username"},
		"access_token": {pageToken},
	}
	var resp igUsernameResponse
	if err := c.get(ctx, "/"+igID, q, &resp); err != nil {
		return "", fmt.Errorf("fetch instagram username: %w", err)
	}
	return resp.Username, nil
}

// subscribedFields are the webhook event kinds requested for each Page.
var subscribedFields = []string{"messages", "messaging_postbacks"}

// subscribeResponse is the acknowledgment from POST /{page}/subscribed_apps.
type subscribeResponse struct {
	Success bool `json:"success"`
}

// SubscribePage asks the platform to deliver message webhook events for the
// given Page. A missing success acknowledgment counts as failure.
func (c *Client) SubscribePage(ctx context.Context, pageID, pageToken string) error {
	payload, err := json.Marshal(map[string]any{"subscribed_fields": subscribedFields})
	if err != nil {
		return fmt.Errorf("marshal subscribe payload: %w", err)
	}

	u := c.baseURL + "/" + pageID + "/subscribed_apps?access_token=" + url.QueryEscape(pageToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("build subscribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return fmt.Errorf("subscribe page %s: %w", pageID, err)
	}

	var ack subscribeResponse
	if err := json.Unmarshal(body, &ack); err != nil {
		return fmt.Errorf("subscribe page %s: parse response: %w", pageID, err)
	}
	if !ack.Success {
		return fmt.Errorf("subscribe page %s: platform did not acknowledge success", pageID)
	}
	log.Info().Str("page_id", pageID).Msg("page subscribed to webhook delivery")
	return nil
}

// get performs a GET against the Graph API and decodes the response into out.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// do executes the request, reads the body, and converts a Graph error
// envelope into *APIError. The envelope is checked on every response,
// not only non-2xx statuses.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env errEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return nil, env.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}
	return body, nil
}

// truncate caps a response body excerpt for error messages.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
