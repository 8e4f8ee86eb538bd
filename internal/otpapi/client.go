// Package otpapi is the HTTP client for the verification endpoints:
// POST /otp/send, /otp/verify and /otp/resend.
package otpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTimeout bounds a single request when the caller sets none.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 64 << 10
)

// SendResult is the decoded body of a successful send or resend.
type SendResult struct {
	// ExpiresIn is the code lifetime in seconds; 0 when the server omitted it.
	ExpiresIn int
}

// Client talks to the verification API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	newID      func() string
}

// Option customizes Client construction.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout sets the per-request timeout. The client's http.Client is
// copied first so no other holder of it sees the change.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			return
		}
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

// WithRequestIDs overrides the X-Request-ID generator.
func WithRequestIDs(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// New returns a client rooted at baseURL (e.g. https://api.example.com/api).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type verifyRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

type apiResponse struct {
	Success      bool   `json:"success"`
	ExpiresIn    *int   `json:"expiresIn,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	AttemptsLeft *int   `json:"attemptsLeft,omitempty"`
}

func (r apiResponse) text() string {
	if msg := strings.TrimSpace(r.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(r.Error)
}

// Send asks the provider to deliver a fresh code to phone.
func (c *Client) Send(ctx context.Context, phone string) (SendResult, error) {
	return c.dispatch(ctx, "send", phone)
}

// Resend asks for another code; the server restarts the expiry window.
func (c *Client) Resend(ctx context.Context, phone string) (SendResult, error) {
	return c.dispatch(ctx, "resend", phone)
}

// Verify submits a code. A wrong code comes back as a KindRejected *Error,
// usually with AttemptsLeft populated.
func (c *Client) Verify(ctx context.Context, phone, code string) error {
	resp, err := c.post(ctx, "verify", verifyRequest{Phone: phone, OTP: code})
	if err != nil {
		return err
	}
	if !resp.Success {
		msg := resp.text()
		if msg == "" {
			msg = "invalid code"
		}
		return &Error{Kind: KindRejected, Op: "verify", Message: msg, AttemptsLeft: resp.AttemptsLeft}
	}
	return nil
}

func (c *Client) dispatch(ctx context.Context, op, phone string) (SendResult, error) {
	resp, err := c.post(ctx, op, phoneRequest{Phone: phone})
	if err != nil {
		return SendResult{}, err
	}
	if !resp.Success {
		msg := resp.text()
		if msg == "" {
			msg = "failed to send code"
		}
		return SendResult{}, &Error{Kind: KindRejected, Op: op, Message: msg}
	}
	result := SendResult{}
	if resp.ExpiresIn != nil && *resp.ExpiresIn > 0 {
		result.ExpiresIn = *resp.ExpiresIn
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, op string, payload any) (apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return apiResponse{}, &Error{Kind: KindTransport, Op: op, Message: "encode request", Cause: err}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	url := fmt.Sprintf("%s/otp/%s", c.baseURL, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apiResponse{}, &Error{Kind: KindTransport, Op: op, Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", c.newID())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return apiResponse{}, &Error{Kind: KindTransport, Op: op, Message: "request failed", Cause: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return apiResponse{}, &Error{Kind: KindTransport, Op: op, Status: res.StatusCode, Message: "read response", Cause: err}
	}
	var decoded apiResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		zero := 0
		left := decoded.AttemptsLeft
		if left == nil {
			left = &zero
		}
		return apiResponse{}, &Error{Kind: KindRateLimited, Op: op, Status: res.StatusCode, Message: decoded.text(), AttemptsLeft: left}
	case res.StatusCode == http.StatusGone:
		return apiResponse{}, &Error{Kind: KindExpired, Op: op, Status: res.StatusCode, Message: decoded.text()}
	case res.StatusCode >= 500:
		return apiResponse{}, &Error{Kind: KindServer, Op: op, Status: res.StatusCode, Message: decoded.text()}
	case res.StatusCode >= 400:
		if decodeErr != nil {
			return apiResponse{}, &Error{Kind: KindServer, Op: op, Status: res.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return apiResponse{}, &Error{Kind: KindRejected, Op: op, Status: res.StatusCode, Message: decoded.text(), AttemptsLeft: decoded.AttemptsLeft}
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return apiResponse{}, &Error{Kind: KindServer, Op: op, Status: res.StatusCode, Message: "unexpected status"}
	}
	if decodeErr != nil {
		var syntaxErr *json.SyntaxError
		msg := "decode response"
		if errors.As(decodeErr, &syntaxErr) {
			msg = "malformed response"
		}
		return apiResponse{}, &Error{Kind: KindTransport, Op: op, Status: res.StatusCode, Message: msg, Cause: decodeErr}
	}
	return decoded, nil
}
