package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"whisperd/pkg/types"
)

const defaultProbeTimeout = 5 * time.Second

// Client talks to the whisper sidecar over HTTP. One sidecar serves all
// devices; the target device index travels with the request so the
// sidecar pins the model to that GPU.
type Client struct {
	baseURL string
	client  *http.Client
}

// ClientConfig holds sidecar connection settings.
type ClientConfig struct {
	BaseURL string
	// Timeout bounds one transcription call. 0 means unbounded; a stuck
	// invocation then holds its device until the sidecar returns.
	Timeout time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// IsAvailable probes the sidecar health endpoint.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type transcribeResponse struct {
	Text       string          `json:"text"`
	Segments   []types.Segment `json:"segments"`
	TokenCount int             `json:"token_count"`
}

// Transcribe uploads the normalized wav and returns the recognized text,
// cleaned of hallucination artifacts.
func (c *Client) Transcribe(ctx context.Context, wavPath, model, language string, device int) (*Transcription, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	_ = mw.WriteField("model", model)
	_ = mw.WriteField("language", language)
	_ = mw.WriteField("device", strconv.Itoa(device))
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("engine returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	return &Transcription{
		Text:       CleanTranscript(out.Text),
		Segments:   out.Segments,
		TokenCount: out.TokenCount,
	}, nil
}

// Fetch asks the sidecar to pull a model into its local cache. Used by
// the catalog during startup; readiness retries live with the caller.
func (c *Client) Fetch(ctx context.Context, model string) error {
	payload, _ := json.Marshal(map[string]string{"model": model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/pull", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("model pull request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("model pull returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
