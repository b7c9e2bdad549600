// Package cvat pushes selected inference results to the CVAT bridge exposed
// by the backend, which creates an annotation task and returns its URL.
package cvat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/maskview/internal/auth"
)

// FallbackMessage is surfaced when the bridge rejects a push without saying why.
const FallbackMessage = "Failed to push to CVAT"

var (
	ErrRejected    = errors.New("cvat push rejected")
	ErrUnreachable = errors.New("cvat bridge unreachable")
)

// RejectionError carries the bridge's user-facing message verbatim.
type RejectionError struct {
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string { return e.Message }

func (e *RejectionError) Unwrap() error { return ErrRejected }

// Pusher submits filenames of one job to CVAT.
type Pusher interface {
	Push(ctx context.Context, jobID string, filenames []string) (*PushResult, error)
}

// PushResult is the bridge's answer to a successful push.
type PushResult struct {
	TaskURL string
}

type pushRequest struct {
	Filenames []string `json:"filenames"`
}

type pushResponse struct {
	TaskURL string `json:"task_url"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

type pushError struct {
	Error string `json:"error"`
}

// Client implements Pusher over the bridge's HTTP API.
type Client struct {
	rc     *resty.Client
	tokens auth.TokenSource
}

// NewClient creates a CVAT bridge client rooted at baseURL.
func NewClient(baseURL string, tokens auth.TokenSource, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{rc: rc, tokens: tokens}
}

// WithTokens returns a client sharing the underlying resty client but
// authenticating with ts.
func (c *Client) WithTokens(ts auth.TokenSource) *Client {
	return &Client{rc: c.rc, tokens: ts}
}

// Push issues exactly one POST /cvat/push-inference/{id}. It never retries.
func (c *Client) Push(ctx context.Context, jobID string, filenames []string) (*PushResult, error) {
	req := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", jobID).
		SetBody(pushRequest{Filenames: filenames}).
		SetResult(&pushResponse{}).
		SetError(&pushError{}).
		ForceContentType("application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("attaching credential: %w", err)
		}
		req.SetAuthToken(token)
	}

	resp, err := req.Post("/cvat/push-inference/{id}")
	if err != nil {
		if resp != nil && resp.StatusCode() != 0 {
			// The bridge answered but the body was not JSON.
			return nil, &RejectionError{StatusCode: resp.StatusCode(), Message: FallbackMessage}
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if !resp.IsSuccess() {
		msg := FallbackMessage
		if e, ok := resp.Error().(*pushError); ok && e.Error != "" {
			msg = e.Error
		}
		return nil, &RejectionError{StatusCode: resp.StatusCode(), Message: msg}
	}

	out := &PushResult{}
	if r, ok := resp.Result().(*pushResponse); ok {
		out.TaskURL = r.TaskURL
		if out.TaskURL == "" {
			out.TaskURL = r.URL
		}
	}
	return out, nil
}

var _ Pusher = (*Client)(nil)
