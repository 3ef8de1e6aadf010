// Package backend is the REST client for the console's remote backend: the
// signaling token endpoint, the number provisioning API and the call history
// API. Responses are returned as loosely-typed records; field-name
// reconciliation happens in the owning package's normalizer.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voice-console/internal/auth"
	"voice-console/internal/normalize"
)

const (
	tokenPath            = "/voice/access-token"
	availableNumbersPath = "/voice/numbers/available"
	purchaseNumberPath   = "/voice/numbers/purchase"
	numbersPath          = "/voice/numbers"
	callLogsPath         = "/voice/calls"
	recordingsPath       = "/voice/recordings"

	maxErrorBody = 4 << 10
)

var (
	ErrUnauthorized       = errors.New("backend: unauthorized")
	ErrNotFound           = errors.New("backend: not found")
	ErrMalformedResponse  = errors.New("backend: malformed response")
	ErrMissingCredentials = errors.New("backend: credentials not available")
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: API error (%d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Client talks to the backend on behalf of the current credential.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      auth.CredentialSource
}

func NewClient(baseURL string, timeout time.Duration, creds auth.CredentialSource) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
	}
}

// AccessToken exchanges the caller's bearer for a short-lived signaling token.
func (c *Client) AccessToken(ctx context.Context, cred auth.Credential) (string, error) {
	body, err := c.doWithToken(ctx, cred.Token, http.MethodPost, tokenPath, nil, map[string]string{"identity": cred.UserID})
	if err != nil {
		return "", err
	}
	rec, ok := normalize.DecodeOne(body)
	if !ok {
		return "", ErrMalformedResponse
	}
	tok := rec.String("token", "accessToken", "access_token", "jwt")
	if tok == "" {
		return "", fmt.Errorf("%w: token field missing", ErrMalformedResponse)
	}
	return tok, nil
}

// SearchParams filters the provider's purchasable inventory.
type SearchParams struct {
	AreaCode string
	Country  string
	Limit    int
}

func (c *Client) SearchAvailableNumbers(ctx context.Context, p SearchParams) ([]normalize.Record, error) {
	q := url.Values{}
	if p.AreaCode != "" {
		q.Set("areaCode", p.AreaCode)
	}
	if p.Country != "" {
		q.Set("country", p.Country)
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return c.list(ctx, availableNumbersPath, q)
}

type PurchaseParams struct {
	PhoneNumber string `json:"phoneNumber"`
	Country     string `json:"country,omitempty"`
	AreaCode    string `json:"areaCode,omitempty"`
}

func (c *Client) PurchaseNumber(ctx context.Context, p PurchaseParams) (normalize.Record, error) {
	body, err := c.do(ctx, http.MethodPost, purchaseNumberPath, nil, p)
	if err != nil {
		return nil, err
	}
	rec, ok := normalize.DecodeOne(body, "phoneNumber", "number")
	if !ok {
		return nil, ErrMalformedResponse
	}
	return rec, nil
}

func (c *Client) ReleaseNumber(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, numbersPath+"/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *Client) ListOwnedNumbers(ctx context.Context) ([]normalize.Record, error) {
	return c.list(ctx, numbersPath, nil)
}

func (c *Client) ListCallLogs(ctx context.Context, q url.Values) ([]normalize.Record, error) {
	return c.list(ctx, callLogsPath, q)
}

func (c *Client) GetCallLog(ctx context.Context, sid string) (normalize.Record, error) {
	body, err := c.do(ctx, http.MethodGet, callLogsPath+"/"+url.PathEscape(sid), nil, nil)
	if err != nil {
		return nil, err
	}
	rec, ok := normalize.DecodeOne(body, "call", "callLog")
	if !ok {
		return nil, ErrMalformedResponse
	}
	return rec, nil
}

func (c *Client) ListRecordings(ctx context.Context, q url.Values) ([]normalize.Record, error) {
	return c.list(ctx, recordingsPath, q)
}

func (c *Client) DeleteRecording(ctx context.Context, sid string) error {
	_, err := c.do(ctx, http.MethodDelete, recordingsPath+"/"+url.PathEscape(sid), nil, nil)
	return err
}

func (c *Client) list(ctx context.Context, path string, q url.Values) ([]normalize.Record, error) {
	body, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	recs, err := normalize.DecodeList(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return recs, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in any) ([]byte, error) {
	if c.creds == nil {
		return nil, ErrMissingCredentials
	}
	cred, err := c.creds.Credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingCredentials, err)
	}
	return c.doWithToken(ctx, cred.Token, method, path, q, in)
}

func (c *Client) doWithToken(ctx context.Context, token, method, path string, q url.Values, in any) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("backend: encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: read response: %w", err)
	}
	return out, nil
}

// errorMessage pulls a human-readable message out of an error body.
func errorMessage(raw []byte) string {
	if rec, ok := normalize.Decode(raw); ok {
		if m := rec.String("message", "error", "detail"); m != "" {
			return m
		}
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "empty response"
	}
	return s
}
