// ABOUTME: HTTP client for the remote content API holding contacts and platform users
// ABOUTME: Paged reads with backoff, single-shot writes, bearer auth and typed HTTP errors
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
)

const (
	ContactsCollection      = "contacts"
	PlatformUsersCollection = "platform-users"

	// DefaultPageSize is the page-size ceiling used for bulk reads.
	DefaultPageSize = 100
)

// Pagination mirrors the meta.pagination envelope of list responses.
type Pagination struct {
	Page      int `json:"page"`
	PageSize  int `json:"pageSize"`
	PageCount int `json:"pageCount"`
	Total     int `json:"total"`
}

// ContactRecord is a row of the remote contacts collection.
type ContactRecord struct {
	ID         ID     `json:"id"`
	DocumentID string `json:"documentId,omitempty"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Source     string `json:"source,omitempty"`
	Owner      string `json:"owner,omitempty"`
}

// PlatformUserRecord is a registered account in the remote store.
type PlatformUserRecord struct {
	ID          ID     `json:"id"`
	DocumentID  string `json:"documentId,omitempty"`
	Phone       string `json:"phone"`
	DisplayName string `json:"displayName,omitempty"`
}

// ContactInput is the create payload for a contact.
type ContactInput struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email,omitempty"`
	Source string `json:"source,omitempty"`
	Owner  string `json:"owner,omitempty"`
}

type ContactPage struct {
	Data []ContactRecord `json:"data"`
	Meta struct {
		Pagination Pagination `json:"pagination"`
	} `json:"meta"`
}

type PlatformUserPage struct {
	Data []PlatformUserRecord `json:"data"`
	Meta struct {
		Pagination Pagination `json:"pagination"`
	} `json:"meta"`
}

// Client is the subset of the content API the reconciliation engine needs.
type Client interface {
	ListContacts(ctx context.Context, account string, page, pageSize int) (ContactPage, error)
	ListPlatformUsers(ctx context.Context, page, pageSize int) (PlatformUserPage, error)
	CreateContact(ctx context.Context, input ContactInput) (ContactRecord, error)
	DeleteContact(ctx context.Context, id string) error
}

// HTTPClient talks to the content API over HTTP.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewHTTPClient creates a client. The bearer token is supplied by the caller
// and sent verbatim on every request.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:1337"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

// WithRetryPolicy overrides the read retry policy.
func (c *HTTPClient) WithRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *HTTPClient {
	c.maxRetries = maxRetries
	c.baseDelay = baseDelay
	c.maxDelay = maxDelay
	return c
}

func (c *HTTPClient) ListContacts(ctx context.Context, account string, page, pageSize int) (ContactPage, error) {
	q := paginationQuery(page, pageSize)
	if strings.TrimSpace(account) != "" {
		q.Set("filters[owner][$eq]", strings.TrimSpace(account))
	}
	var out ContactPage
	err := c.doJSON(ctx, http.MethodGet, "/api/"+ContactsCollection+"?"+q.Encode(), nil, &out)
	return out, err
}

func (c *HTTPClient) ListPlatformUsers(ctx context.Context, page, pageSize int) (PlatformUserPage, error) {
	q := paginationQuery(page, pageSize)
	var out PlatformUserPage
	err := c.doJSON(ctx, http.MethodGet, "/api/"+PlatformUsersCollection+"?"+q.Encode(), nil, &out)
	return out, err
}

func (c *HTTPClient) CreateContact(ctx context.Context, input ContactInput) (ContactRecord, error) {
	body := map[string]any{"data": input}
	var out struct {
		Data ContactRecord `json:"data"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/"+ContactsCollection, body, &out)
	return out.Data, err
}

func (c *HTTPClient) DeleteContact(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &HTTPError{StatusCode: http.StatusBadRequest, Code: "ValidationError", Message: "empty id"}
	}
	return c.doJSON(ctx, http.MethodDelete, "/api/"+ContactsCollection+"/"+url.PathEscape(id), nil, nil)
}

func paginationQuery(page, pageSize int) url.Values {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	q := url.Values{}
	q.Set("pagination[page]", strconv.Itoa(page))
	q.Set("pagination[pageSize]", strconv.Itoa(pageSize))
	return q
}

// doJSON issues one request. Reads are retried on transport errors, 429 and
// 5xx; writes are sent exactly once so callers see every outcome.
func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	retries := 0
	if method == http.MethodGet {
		retries = c.maxRetries
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < retries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < retries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		return parseHTTPError(resp.StatusCode, payloadBytes)
	}
}

func parseHTTPError(status int, payload []byte) *HTTPError {
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   *struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(payload, &envelope)
	httpErr := &HTTPError{StatusCode: status, Code: envelope.Code, Message: envelope.Message, Body: payload}
	if envelope.Error != nil {
		if httpErr.Code == "" {
			httpErr.Code = envelope.Error.Name
		}
		if httpErr.Message == "" {
			httpErr.Message = envelope.Error.Message
		}
	}
	if httpErr.Message == "" {
		httpErr.Message = http.StatusText(status)
	}
	return httpErr
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ID accepts both numeric and string identifiers from the API.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}
