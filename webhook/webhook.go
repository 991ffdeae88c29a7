// Package webhook performs the single outbound POST a notifier node makes.
// A non-success status is logged and reported in the Response, never as an error;
// only transport failures come back as errors.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Expect decides which status codes count as a successful delivery
type Expect int

const (
	// ExpectNoContent accepts only 204
	ExpectNoContent Expect = iota
	// ExpectBelow300 accepts any status < 300
	ExpectBelow300
)

func (e Expect) ok(status int) bool {
	switch e {
	case ExpectNoContent:
		return status == http.StatusNoContent
	default:
		return status < 300
	}
}

type Response struct {
	StatusCode int
	Body       string
	OK         bool
}

type Client struct {
	httpclient *http.Client
	log        *zap.Logger
}

// NewClient creates a webhook client. A zero timeout leaves the request unbounded.
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpclient: &http.Client{Timeout: timeout},
		log:        logger,
	}
}

// return the underlying http client
func (c *Client) HttpClient() *http.Client {
	return c.httpclient
}

// set the underlying http client
func (c *Client) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

// EncodeMetadata returns the JSON string encoding of raw. Metadata that is
// already JSON text therefore arrives double encoded, which receivers expect.
func EncodeMetadata(raw string) string {
	b, _ := json.Marshal(raw)
	return string(b)
}

// PostForm sends fields as application/x-www-form-urlencoded
func (c *Client) PostForm(ctx context.Context, webhookURL string, fields url.Values, expect Expect) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, strings.NewReader(fields.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, expect)
}

// PostFile sends a multipart body with the file under field plus the plain form fields.
// Fields are written in the order given by names.
func (c *Client) PostFile(ctx context.Context, webhookURL, field, filename string, r io.Reader, names []string, fields map[string]string, expect Expect) (*Response, error) {
	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	formFile, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return nil, err
	}
	if _, err = io.Copy(formFile, r); err != nil {
		return nil, err
	}

	for _, k := range names {
		if err := writer.WriteField(k, fields[k]); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, &requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, expect)
}

func (c *Client) do(req *http.Request, expect Expect) (*Response, error) {
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Warn("Failed to read webhook response body",
			zap.String("url", req.URL.Redacted()),
			zap.Int("status", resp.StatusCode),
			zap.Int("read", len(body)),
			zap.Error(err),
		)
	}
	retv := &Response{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		OK:         expect.ok(resp.StatusCode),
	}

	if retv.OK {
		c.log.Info("Webhook delivered",
			zap.String("url", req.URL.Redacted()),
			zap.Int("status", retv.StatusCode),
		)
	} else {
		c.log.Error(fmt.Sprintf("Webhook failed. Status code: %d - %s", retv.StatusCode, retv.Body),
			zap.String("url", req.URL.Redacted()),
			zap.Int("status", retv.StatusCode),
			zap.String("body", retv.Body),
		)
	}
	return retv, nil
}
