// Package predictsvc talks to the remote prediction service over HTTP.
package predictsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/pulmoscan/pkg/types"
)

// DefaultBaseURL is where the service listens in a local setup
const DefaultBaseURL = "http://localhost:8000/api"

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 64 << 20

// Client calls POST {base}/predict/{task}?explain=0|1 with a multipart upload
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(l *logrus.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the service at serverURL
func NewClient(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultBaseURL
	}
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %q", parsed.Scheme)
	}

	c := &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		// per-request deadlines come from the caller's context
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.SetLevel(logrus.PanicLevel)
	}
	return c, nil
}

// BaseURL returns the service root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Predict uploads the image and decodes the success payload
func (c *Client) Predict(ctx context.Context, req types.PredictionRequest) (*types.WireResponse, error) {
	if !req.Task.Valid() {
		return nil, types.NewRequestError(0, fmt.Sprintf("unknown task %q", req.Task), types.ErrUnknownTask)
	}

	body, contentType, err := encodeUpload(req)
	if err != nil {
		return nil, types.NewRequestError(0, fmt.Sprintf("failed to encode upload: %v", err), err)
	}

	explain := "0"
	if req.Explain {
		explain = "1"
	}
	endpoint := fmt.Sprintf("%s/predict/%s?explain=%s", c.baseURL, url.PathEscape(string(req.Task)), explain)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, types.NewRequestError(0, fmt.Sprintf("failed to create request: %v", err), err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if req.ID != "" {
		httpReq.Header.Set("X-Request-ID", req.ID)
	}

	log := c.logger.WithFields(logrus.Fields{
		"task":       req.Task,
		"explain":    req.Explain,
		"request_id": req.ID,
	})
	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Debugf("prediction transport error: %v", err)
		return nil, types.NewRequestError(0, err.Error(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, types.NewRequestError(resp.StatusCode, fmt.Sprintf("failed to read response: %v", err), err)
	}

	log = log.WithFields(logrus.Fields{"status": resp.StatusCode, "elapsed": time.Since(start)})
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debug("prediction rejected")
		return nil, types.NewRequestError(resp.StatusCode, ErrorMessage(raw), nil)
	}

	var wire types.WireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, types.NewRequestError(resp.StatusCode, fmt.Sprintf("failed to parse response: %v", err), err)
	}
	log.Debug("prediction received")
	return &wire, nil
}

func encodeUpload(req types.PredictionRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := req.Filename
	if filename == "" {
		filename = "upload"
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
