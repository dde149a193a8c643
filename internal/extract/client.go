// Package extract submits drawings to the remote extraction service and
// decodes its bill-of-quantities response.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/cadboq/internal/logging"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultBaseURL     = "http://localhost:8000"
	DefaultProcessPath = "/process"
	DefaultTimeout     = 5 * time.Minute

	// DefaultMaxResponseBytes bounds how much of a reply is read.
	DefaultMaxResponseBytes = 32 << 20
)

// Multipart field names understood by the extraction service.
const (
	FieldFile        = "file"
	FieldAccessToken = "access_token"
	FieldUserEmail   = "user_email"
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	ProcessPath string
	Timeout     time.Duration

	// MaxResponseBytes caps the reply body. Larger replies fail the upload.
	MaxResponseBytes int64
}

// Credential authorizes the service to email the report. Both fields are
// sent together or not at all.
type Credential struct {
	AccessToken string
	Email       string
}

// Request is a single submission.
type Request struct {
	File       *File
	Credential *Credential
}

// Client talks to the extraction service.
type Client struct {
	endpoint string
	timeout  time.Duration
	maxBody  int64
	http     *http.Client
}

// NewClient creates a Client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	path := cfg.ProcessPath
	if path == "" {
		path = DefaultProcessPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		endpoint: base + path,
		timeout:  timeout,
		maxBody:  maxBody,
		http:     httpClient,
	}
}

// Endpoint returns the URL submissions are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Submit posts the file to the service exactly once and decodes the reply.
// A missing file is a *ValidationError and nothing is sent. Every other
// failure is an *UploadError. There are no retries.
func (c *Client) Submit(ctx context.Context, req Request) (*Result, error) {
	if req.File == nil || req.File.Name == "" {
		return nil, &ValidationError{Field: "file", Err: ErrNoFile}
	}

	logger := logging.WithFields(ctx, "submission_id", uuid.NewString())
	start := time.Now()

	body, contentType, err := encodeMultipart(req)
	if err != nil {
		logger.Error("extract.submit.encode_error", "error", err)
		return nil, &UploadError{Err: fmt.Errorf("encode request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, &UploadError{Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	logger.Info("extract.submit.request",
		"url", c.endpoint,
		"file", req.File.Name,
		"bytes", req.File.Size(),
		"with_credential", req.Credential != nil,
	)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		logger.Error("extract.submit.send_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, &UploadError{Err: err}
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logger.Warn("extract.submit.body_close_error", "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		logger.Error("extract.submit.read_error", "status", resp.StatusCode, "error", err)
		return nil, &UploadError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(raw)) > c.maxBody {
		logger.Error("extract.submit.too_large", "status", resp.StatusCode, "limit", c.maxBody)
		return nil, &UploadError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, c.maxBody),
		}
	}

	logger.Info("extract.submit.response",
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return nil, &UploadError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("non-2xx status: %s", snippet(raw)),
		}
	}

	result, err := Decode(raw)
	if err != nil {
		logger.Error("extract.submit.decode_error", "error", err)
		return nil, &UploadError{StatusCode: resp.StatusCode, Err: err}
	}

	logOutcome(logger, result)
	return result, nil
}

func logOutcome(logger *slog.Logger, r *Result) {
	attrs := []any{"items", len(r.Items), "shape", r.Shape.String()}
	if r.EmailStatus != nil {
		attrs = append(attrs, "email_success", r.EmailStatus.Success)
	}
	logger.Info("extract.submit.ok", attrs...)
}

// encodeMultipart builds the form body: the file, plus the credential
// fields only when a credential is present.
func encodeMultipart(req Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile(FieldFile, req.File.Name)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(req.File.Data); err != nil {
		return nil, "", err
	}

	if req.Credential != nil {
		if err := mw.WriteField(FieldAccessToken, req.Credential.AccessToken); err != nil {
			return nil, "", err
		}
		if err := mw.WriteField(FieldUserEmail, req.Credential.Email); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "empty body"
	}
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
