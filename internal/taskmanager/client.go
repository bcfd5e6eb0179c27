package taskmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// Client talks to the external task-execution service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the service at baseURL. A zero timeout
// defaults to 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// StartTask submits a task for asynchronous execution. The service answers
// later through the results callback.
func (c *Client) StartTask(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/task", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create task request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// UploadFile streams one source document to the service under the given
// phase, scoped to (tenant, extractor id).
func (c *Client) UploadFile(ctx context.Context, phase Phase, tenant, extractorID, fileName string, content io.Reader) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(fileName))
	if err != nil {
		return fmt.Errorf("failed to create multipart file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/%s", c.baseURL, phase, tenant, extractorID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req)
}

// UploadMaterials sends the per-document materials for a phase as JSON.
// Training materials carry labels, prediction materials only geometry.
func (c *Client) UploadMaterials(ctx context.Context, phase Phase, material Material) error {
	route := "prediction_data"
	if phase == PhaseTrain {
		route = "labeled_data"
	}

	body, err := json.Marshal(material)
	if err != nil {
		return fmt.Errorf("failed to encode material: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+route, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create materials request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// Results fetches a finished batch from the URL carried by a results
// message.
func (c *Client) Results(ctx context.Context, dataURL string) ([]RawSuggestion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create results request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("results fetch returned status %d", resp.StatusCode)
	}

	var suggestions []RawSuggestion
	if err := json.NewDecoder(resp.Body).Decode(&suggestions); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return suggestions, nil
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to task service failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("task service returned status %d", resp.StatusCode)
	}
	return nil
}
