package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/maskview/internal/auth"
	"github.com/kiranshivaraju/maskview/pkg/models"
)

// Sentinel errors for backend client failures.
var (
	ErrNotFound       = errors.New("backend resource not found")
	ErrTransientFetch = errors.New("backend fetch failed")
	ErrRejected       = errors.New("backend rejected request")
)

// MaxArtifactBytes bounds a single artifact payload held in memory.
const MaxArtifactBytes = 64 << 20

// Client is the interface for the inference REST backend.
type Client interface {
	GetInference(ctx context.Context, id string) (*models.InferenceJob, error)
	GetArtifact(ctx context.Context, artifactID string) (*Artifact, error)
	Download(ctx context.Context, id string) (io.ReadCloser, error)
}

// Artifact is one binary object (source image or mask) fetched by reference.
type Artifact struct {
	ID          string
	ContentType string
	Data        []byte
}

// HTTPClient implements Client using the backend's HTTP API.
type HTTPClient struct {
	baseURL string
	tokens  auth.TokenSource
	client  *http.Client
}

// NewHTTPClient creates a new backend HTTP client. baseURL includes any API
// prefix, e.g. http://localhost:5001/api.
func NewHTTPClient(baseURL string, tokens auth.TokenSource, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithTokens returns a client sharing the underlying transport but
// authenticating with ts.
func (c *HTTPClient) WithTokens(ts auth.TokenSource) *HTTPClient {
	cp := *c
	cp.tokens = ts
	return &cp
}

func (c *HTTPClient) GetInference(ctx context.Context, id string) (*models.InferenceJob, error) {
	u := fmt.Sprintf("%s/inferences/%s", c.baseURL, url.PathEscape(id))

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var job models.InferenceJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("%w: decoding inference response: %v", ErrTransientFetch, err)
	}
	job.Normalize()

	return &job, nil
}

func (c *HTTPClient) GetArtifact(ctx context.Context, artifactID string) (*Artifact, error) {
	u := fmt.Sprintf("%s/files/%s", c.baseURL, url.PathEscape(artifactID))

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxArtifactBytes+1))
	if err != nil {
		return nil, classifyError(err)
	}
	if len(data) > MaxArtifactBytes {
		return nil, fmt.Errorf("%w: artifact %s exceeds %d bytes", ErrRejected, artifactID, MaxArtifactBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &Artifact{ID: artifactID, ContentType: contentType, Data: data}, nil
}

// Download opens the job's result archive. The caller must close the body.
func (c *HTTPClient) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/inferences/%s/download", c.baseURL, url.PathEscape(id))

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp.Body, nil
}

func (c *HTTPClient) get(ctx context.Context, u string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if err := auth.Apply(ctx, c.tokens, httpReq); err != nil {
		return nil, fmt.Errorf("attaching credential: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

// checkStatus maps non-2xx responses to sentinel errors.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrTransientFetch, resp.StatusCode)
	default:
		msg := ErrorMessage(resp.Body)
		if msg == "" {
			return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)
	}
}

// ErrorMessage extracts the {"error": "..."} message the backend attaches to
// failed responses. It returns "" when the body carries none.
func ErrorMessage(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&payload); err != nil {
		return ""
	}
	return payload.Error
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrTransientFetch, err)
	}

	return fmt.Errorf("%w: %v", ErrTransientFetch, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
