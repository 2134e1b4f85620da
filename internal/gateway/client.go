// Package gateway is the HTTP client for the remote GPU inference
// server. Every model invocation follows the same shape: upload the
// input files, post an inference request for a capability, then download
// the produced artifact. The server is stateless between calls; all
// retry policy lives on this side.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout       = 10 * time.Minute
	defaultUploadTimeout = 2 * time.Minute
	defaultMaxRetries    = 3
	defaultBackoffBase   = time.Second
	defaultHealthTimeout = 5 * time.Second
)

// Config carries the connection settings for the GPU server.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration // inference calls; generation is slow
	UploadTimeout time.Duration
	// MaxRetries bounds the retries after a failed first attempt, so a
	// value of n allows n+1 calls per Run.
	MaxRetries int
	Logger     zerolog.Logger
}

// Client talks to one GPU inference server.
type Client struct {
	baseURL     string
	apiKey      string
	infer       *http.Client
	upload      *http.Client
	health      *http.Client
	maxRetries  int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	log         zerolog.Logger
}

// New constructs a Client. Zero-valued timeouts and retry counts take
// the package defaults.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		infer:       &http.Client{Timeout: cfg.Timeout, Transport: transport},
		upload:      &http.Client{Timeout: cfg.UploadTimeout, Transport: transport},
		health:      &http.Client{Timeout: defaultHealthTimeout, Transport: transport},
		maxRetries:  cfg.MaxRetries,
		backoffBase: defaultBackoffBase,
		sleep:       sleepCtx,
		log:         cfg.Logger.With().Str("component", "gateway").Logger(),
	}
}

// Request describes one inference call.
type Request struct {
	// Capability selects the server-side pipeline, e.g. "wan_i2v".
	Capability string
	// Params is the JSON body of the inference call. File ids for the
	// uploaded InputFiles are merged in under their field names.
	Params map[string]any
	// InputFiles maps a body field name to a local file to upload first.
	InputFiles map[string]string
	// OutputPath, when set, downloads the produced artifact there.
	OutputPath string
}

// Result is the decoded inference response.
type Result struct {
	OutputFileID   string  `json:"output_file_id"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	// LocalPath is where the artifact was saved, when a download ran.
	LocalPath string `json:"-"`
}

// Run executes the upload/infer/download sequence once, without retries.
func (c *Client) Run(ctx context.Context, req Request) (*Result, error) {
	params := make(map[string]any, len(req.Params)+len(req.InputFiles))
	for k, v := range req.Params {
		params[k] = v
	}
	for field, path := range req.InputFiles {
		id, err := c.uploadFile(ctx, path)
		if err != nil {
			return nil, &UploadError{Path: path, Err: err}
		}
		params[field] = id
	}

	res, err := c.postInfer(ctx, req.Capability, params)
	if err != nil {
		return nil, err
	}

	if req.OutputPath != "" && res.OutputFileID != "" {
		if err := c.downloadFile(ctx, res.OutputFileID, req.OutputPath); err != nil {
			return nil, &DownloadError{FileID: res.OutputFileID, Err: err}
		}
		res.LocalPath = req.OutputPath
	}
	return res, nil
}

// HealthCheck probes the server's /health endpoint. The probe gates a
// whole workflow, so it fails fast on its own short timeout instead of
// waiting out an inference deadline.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	resp, err := c.health.Do(req)
	if err != nil {
		return fmt.Errorf("gpu server unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gpu server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) uploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.upload.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", remoteStatusError(resp)
	}
	var out struct {
		FileID string `json:"file_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.FileID == "" {
		return "", fmt.Errorf("upload response missing file_id")
	}
	return out.FileID, nil
}

func (c *Client) postInfer(ctx context.Context, capability string, params map[string]any) (*Result, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode infer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/infer/"+capability, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	start := time.Now()
	resp, err := c.infer.Do(req)
	if err != nil {
		inferTotal.WithLabelValues(capability, "error").Inc()
		return nil, fmt.Errorf("infer %s: %w", capability, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		inferTotal.WithLabelValues(capability, "error").Inc()
		return nil, remoteStatusError(resp)
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		inferTotal.WithLabelValues(capability, "error").Inc()
		return nil, fmt.Errorf("decode infer response: %w", err)
	}
	inferTotal.WithLabelValues(capability, "ok").Inc()
	inferDuration.WithLabelValues(capability).Observe(time.Since(start).Seconds())
	return &res, nil
}

func (c *Client) downloadFile(ctx context.Context, fileID, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.infer.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return remoteStatusError(resp)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func remoteStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &RemoteError{StatusCode: resp.StatusCode, Body: string(body)}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
