// Package client is a Go client for the companion API. It carries the
// device identity the browser would send, so quota is tracked the same way.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/companion/internal/deviceidentity"
	"github.com/smallbiznis/companion/internal/fingerprint"
	"github.com/smallbiznis/companion/internal/observability/tracing"
	"go.uber.org/zap"
)

const (
	HeaderDeviceID    = "X-Device-Id"
	HeaderFingerprint = "X-Device-Fingerprint"

	maxErrorBody = 4 << 10
)

var (
	ErrLimitReached = errors.New("limit_reached")
	ErrUnauthorized = errors.New("unauthorized")
)

// LimitError is returned when the daily quota is exhausted.
type LimitError struct {
	Remaining int
	Limit     int
	IsGuest   bool
	Message   string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit_reached: %d of %d remaining", e.Remaining, e.Limit)
}

func (e *LimitError) Unwrap() error { return ErrLimitReached }

// APIError is any other non-2xx answer.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("companion api: %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("companion api: unexpected status %d", e.StatusCode)
}

// Identity supplies the device id and the fingerprint snapshot it was
// derived from. *deviceidentity.Store satisfies it.
type Identity interface {
	GetOrCreate(ctx context.Context) string
	Info(ctx context.Context) deviceidentity.Info
}

type Options struct {
	BaseURL    string
	Token      string
	Identity   Identity
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL  string
	token    string
	identity Identity
	http     *http.Client
	log      *zap.Logger

	mu          sync.Mutex
	fpForDevice string
	fpHeader    string
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = tracing.WrapHTTPClient(&http.Client{Timeout: 90 * time.Second})
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		token:    strings.TrimSpace(opts.Token),
		identity: opts.Identity,
		http:     httpClient,
		log:      log.Named("client"),
	}
}

// Usage mirrors the server's quota view.
type Usage struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Remaining      int    `json:"remaining"`
	IsGuest        bool   `json:"isGuest"`
	Limit          int    `json:"limit"`
	TrackingMethod string `json:"trackingMethod,omitempty"`
}

type HistoryEntry struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message             string         `json:"message"`
	Personality         string         `json:"personality"`
	Language            string         `json:"language"`
	ConversationHistory []HistoryEntry `json:"conversationHistory,omitempty"`
}

type ChatReply struct {
	Response  string `json:"response"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
}

func (c *Client) Usage(ctx context.Context) (*Usage, error) {
	var out Usage
	if err := c.do(ctx, http.MethodGet, "/api/usage", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var out ChatReply
	if err := c.do(ctx, http.MethodPost, "/api/chat", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.attachIdentity(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return decodeError(resp)
}

// attachIdentity sends the device id, plus the canonical fingerprint the id
// was derived from. The fingerprint is collected once per device id.
func (c *Client) attachIdentity(ctx context.Context, req *http.Request) {
	if c.identity == nil {
		return
	}
	deviceID := c.identity.GetOrCreate(ctx)
	if deviceID == "" {
		return
	}
	req.Header.Set(HeaderDeviceID, deviceID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fpForDevice != deviceID {
		info := c.identity.Info(ctx)
		c.fpHeader = fingerprint.CanonicalJSON(info.Fingerprint)
		c.fpForDevice = deviceID
	}
	if c.fpHeader != "" {
		req.Header.Set(HeaderFingerprint, c.fpHeader)
	}
}

type errorBody struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	LimitReached bool   `json:"limitReached"`
	Remaining    int    `json:"remaining"`
	Limit        int    `json:"limit"`
	IsGuest      bool   `json:"isGuest"`
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests && body.LimitReached:
		return &LimitError{Remaining: body.Remaining, Limit: body.Limit, IsGuest: body.IsGuest, Message: body.Message}
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, body.Message)
	}
	return &APIError{StatusCode: resp.StatusCode, Code: body.Error, Message: body.Message}
}
