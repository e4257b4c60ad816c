// Package transport is the HTTP client for the safe-walk REST API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"backend-selfbell/internal/api"
)

const apiPrefix = "/api/v1"

// maxErrorBody bounds how much of an error response is kept as the message.
const maxErrorBody = 4 << 10

// TokenSource yields the bearer token for authenticated calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (t StaticToken) AccessToken(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create starts a safe walk on the server.
func (c *Client) Create(ctx context.Context, req api.CreateRequest) (api.Session, error) {
	var session api.Session
	if err := c.do(ctx, "create", http.MethodPost, "/safe-walks", nil, req, &session, true); err != nil {
		return api.Session{}, err
	}
	if session.Topic == "" {
		session.Topic = api.TopicFor(session.ID)
	}
	return session, nil
}

// Track uploads one location point. It reports true only when the server
// answered UPLOADED.
func (c *Client) Track(ctx context.Context, sessionID int64, req api.TrackRequest) (bool, error) {
	var resp api.TrackResponse
	path := fmt.Sprintf("/safe-walks/%d/track", sessionID)
	if err := c.do(ctx, "track", http.MethodPost, path, nil, req, &resp, true); err != nil {
		return false, err
	}
	return resp.Status == api.TrackUploaded, nil
}

// End closes the session server-side.
func (c *Client) End(ctx context.Context, sessionID int64, reason api.EndReason) (bool, error) {
	var resp api.EndResponse
	path := fmt.Sprintf("/safe-walks/%d/end", sessionID)
	if err := c.do(ctx, "end", http.MethodPut, path, nil, api.EndRequest{Reason: reason}, &resp, true); err != nil {
		return false, err
	}
	return strings.Contains(resp.Status, "END"), nil
}

func (c *Client) Detail(ctx context.Context, sessionID int64) (api.SessionDetail, error) {
	var detail api.SessionDetail
	path := fmt.Sprintf("/safe-walks/%d", sessionID)
	if err := c.do(ctx, "detail", http.MethodGet, path, nil, nil, &detail, true); err != nil {
		return api.SessionDetail{}, err
	}
	return detail, nil
}

// Current returns nil when the caller has no active session.
func (c *Client) Current(ctx context.Context) (*api.SessionState, error) {
	var state api.SessionState
	status, err := c.send(ctx, "current", http.MethodGet, "/safe-walks/ward/current", nil, nil, &state, true)
	if status == http.StatusNoContent || status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

type TrackQuery struct {
	Cursor string
	Size   int
	Order  api.SortOrder
}

func (c *Client) Tracks(ctx context.Context, sessionID int64, q TrackQuery) (api.TrackPage, error) {
	params := url.Values{}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	if q.Size > 0 {
		params.Set("size", strconv.Itoa(q.Size))
	}
	if q.Order != "" {
		params.Set("order", string(q.Order))
	}
	var page api.TrackPage
	path := fmt.Sprintf("/safe-walks/%d/tracks", sessionID)
	if err := c.do(ctx, "tracks", http.MethodGet, path, params, nil, &page, true); err != nil {
		return api.TrackPage{}, err
	}
	return page, nil
}

// AllTracks follows nextCursor until the server stops issuing one.
func (c *Client) AllTracks(ctx context.Context, sessionID int64, size int, order api.SortOrder) ([]api.TrackItem, error) {
	var items []api.TrackItem
	q := TrackQuery{Size: size, Order: order}
	for {
		page, err := c.Tracks(ctx, sessionID, q)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if page.NextCursor == nil || *page.NextCursor == "" {
			return items, nil
		}
		q.Cursor = *page.NextCursor
	}
}

type HistoryFilter struct {
	Target api.HistoryTarget
	From   time.Time
	To     time.Time
	Order  api.SortOrder
}

func (c *Client) History(ctx context.Context, f HistoryFilter) ([]api.HistoryItem, error) {
	params := url.Values{}
	target := f.Target
	if target == "" {
		target = api.TargetMe
	}
	params.Set("target", string(target))
	if !f.From.IsZero() {
		params.Set("from", f.From.Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		params.Set("to", f.To.Format(time.RFC3339))
	}
	if f.Order != "" {
		params.Set("order", string(f.Order))
	}
	var items []api.HistoryItem
	if err := c.do(ctx, "history", http.MethodGet, "/safe-walks/history", params, nil, &items, true); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) Login(ctx context.Context, req api.LoginRequest) (api.TokenResponse, error) {
	var tokens api.TokenResponse
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", nil, req, &tokens, false); err != nil {
		return api.TokenResponse{}, err
	}
	return tokens, nil
}

func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (api.TokenResponse, error) {
	var resp struct {
		Tokens api.TokenResponse `json:"tokens"`
	}
	if err := c.do(ctx, "register", http.MethodPost, "/auth/register", nil, req, &resp, false); err != nil {
		return api.TokenResponse{}, err
	}
	return resp.Tokens, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (api.TokenResponse, error) {
	var tokens api.TokenResponse
	req := api.RefreshRequest{RefreshToken: refreshToken}
	if err := c.do(ctx, "refresh", http.MethodPost, "/auth/refresh", nil, req, &tokens, false); err != nil {
		return api.TokenResponse{}, err
	}
	return tokens, nil
}

func (c *Client) Guardians(ctx context.Context) ([]api.Guardian, error) {
	var guardians []api.Guardian
	if err := c.do(ctx, "guardians", http.MethodGet, "/guardians", nil, nil, &guardians, true); err != nil {
		return nil, err
	}
	return guardians, nil
}

func (c *Client) AddGuardian(ctx context.Context, guardianID int64) (api.Guardian, error) {
	var g api.Guardian
	body := map[string]int64{"guardianId": guardianID}
	if err := c.do(ctx, "add guardian", http.MethodPost, "/guardians", nil, body, &g, true); err != nil {
		return api.Guardian{}, err
	}
	return g, nil
}

func (c *Client) Nearby(ctx context.Context, lat, lon, radiusM float64, kind api.PlaceKind) ([]api.Place, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("radiusM", strconv.FormatFloat(radiusM, 'f', -1, 64))
	if kind != "" {
		params.Set("kind", string(kind))
	}
	var places []api.Place
	if err := c.do(ctx, "nearby", http.MethodGet, "/places/nearby", params, nil, &places, true); err != nil {
		return nil, err
	}
	return places, nil
}

func (c *Client) RaiseAlert(ctx context.Context, req api.RaiseAlertRequest) (api.RaiseAlertResponse, error) {
	var resp api.RaiseAlertResponse
	if err := c.do(ctx, "raise alert", http.MethodPost, "/alerts", nil, req, &resp, true); err != nil {
		return api.RaiseAlertResponse{}, err
	}
	return resp, nil
}

// Alerts lists the caller's guardian inbox, optionally only unacknowledged ones.
func (c *Client) Alerts(ctx context.Context, pendingOnly bool) ([]api.Alert, error) {
	params := url.Values{}
	if pendingOnly {
		params.Set("pending", "true")
	}
	var alerts []api.Alert
	if err := c.do(ctx, "alerts", http.MethodGet, "/alerts", params, nil, &alerts, true); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) AckAlert(ctx context.Context, id string) error {
	return c.do(ctx, "ack alert", http.MethodPost, "/alerts/"+url.PathEscape(id)+"/ack", nil, nil, nil, true)
}

func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body, out any, authed bool) error {
	_, err := c.send(ctx, op, method, path, params, body, out, authed)
	return err
}

// send performs one call and returns the HTTP status alongside any error. A
// 204 leaves out untouched.
func (c *Client) send(ctx context.Context, op, method, path string, params url.Values, body, out any, authed bool) (int, error) {
	u := c.baseURL + apiPrefix + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("transport: %s: encode: %w", op, err)
		}
		rd = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return 0, fmt.Errorf("transport: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, &ServerError{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return resp.StatusCode, &ServerError{Op: op, Message: "empty body"}
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) {
			return resp.StatusCode, &NetworkError{Op: op, Err: err}
		}
		return resp.StatusCode, &ServerError{Op: op, Message: err.Error()}
	}
	c.log.Debug("api call", "op", op, "status", resp.StatusCode)
	return resp.StatusCode, nil
}
