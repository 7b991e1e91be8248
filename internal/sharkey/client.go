// Package sharkey is a minimal client for the Misskey-family admin and
// drive APIs used by the publisher. Every endpoint is a POST of a JSON body
// to {base}/api/{path} with the credential injected as "i".
package sharkey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const bodySnippetLen = 300

// Config configures the client.
type Config struct {
	BaseURL string // e.g. https://shonk.social
	Token   string // admin API credential, injected as "i"
	Timeout time.Duration
	DryRun  bool // log would-be calls, report success, touch nothing
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Client talks to one Sharkey/Misskey instance.
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// BaseURL returns the configured instance base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.config.BaseURL }

// DryRun reports whether the client is in dry-run mode.
func (c *Client) DryRun() bool { return c.config.DryRun }

// Post calls an API endpoint and fails on any non-2xx status.
func (c *Client) Post(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	ok, body, status, err := c.PostSoft(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: http %d: %s", path, status, Snippet(body))
	}
	return body, nil
}

// PostSoft calls an API endpoint and reports HTTP-level failure through the
// ok flag instead of an error, handing the body back for inspection. The
// publisher's retry matrix needs the failure body to classify the rejection.
func (c *Client) PostSoft(ctx context.Context, path string, payload map[string]any) (ok bool, body []byte, status int, err error) {
	if c.config.DryRun {
		c.logger.Info("dry-run: would call API", "path", path, "payload", payloadForLog(payload))
		return true, []byte(`{}`), http.StatusOK, nil
	}

	merged := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		merged[k] = v
	}
	merged["i"] = c.config.Token

	raw, err := json.Marshal(merged)
	if err != nil {
		return false, nil, 0, fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/api/"+path, bytes.NewReader(raw))
	if err != nil {
		return false, nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return false, nil, resp.StatusCode, fmt.Errorf("%s: read body: %w", path, err)
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300, body, resp.StatusCode, nil
}

// DriveFile is the subset of a drive file the pipeline cares about.
type DriveFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type driveFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EnsureFolder returns the id of the named drive folder, creating it when
// absent.
func (c *Client) EnsureFolder(ctx context.Context, name string) (string, error) {
	if c.config.DryRun {
		c.logger.Info("dry-run: would ensure drive folder", "name", name)
		return "dry-run-folder", nil
	}

	body, err := c.Post(ctx, "drive/folders", map[string]any{"limit": 100})
	if err != nil {
		return "", fmt.Errorf("list folders: %w", err)
	}
	var folders []driveFolder
	if err := json.Unmarshal(body, &folders); err != nil {
		return "", fmt.Errorf("decode folders: %w", err)
	}
	for _, f := range folders {
		if f.Name == name {
			return f.ID, nil
		}
	}

	body, err = c.Post(ctx, "drive/folders/create", map[string]any{"name": name})
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	var created driveFolder
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("decode created folder: %w", err)
	}
	return created.ID, nil
}

// UploadFile pushes image bytes into the drive as a multipart form.
func (c *Client) UploadFile(ctx context.Context, folderID, filename string, data []byte, contentType string) (*DriveFile, error) {
	c.logger.Info("uploading to drive",
		"filename", filename, "size", humanize.Bytes(uint64(len(data))))

	if c.config.DryRun {
		return &DriveFile{ID: "dry-run-file", Name: filename}, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("i", c.config.Token)
	_ = w.WriteField("name", filename)
	_ = w.WriteField("force", "true")
	if folderID != "" {
		_ = w.WriteField("folderId", folderID)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("multipart write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("multipart close: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/api/drive/files/create", &buf)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive/files/create: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("drive/files/create: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("drive/files/create: http %d: %s", resp.StatusCode, Snippet(body))
	}

	var file DriveFile
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("decode drive file: %w", err)
	}
	return &file, nil
}

// UpdateFile moves and/or renames an existing drive file. Empty arguments
// leave the corresponding attribute untouched.
func (c *Client) UpdateFile(ctx context.Context, fileID, folderID, name string) error {
	payload := map[string]any{"fileId": fileID}
	if folderID != "" {
		payload["folderId"] = folderID
	}
	if name != "" {
		payload["name"] = name
	}
	_, err := c.Post(ctx, "drive/files/update", payload)
	return err
}

// ListAds fetches all ads as raw JSON objects so the caller can inspect
// whatever fields this fork happens to emit.
func (c *Client) ListAds(ctx context.Context) ([]map[string]any, error) {
	if c.config.DryRun {
		return nil, nil
	}
	body, err := c.Post(ctx, "admin/ad/list", map[string]any{"limit": 100})
	if err != nil {
		return nil, fmt.Errorf("admin/ad/list: %w", err)
	}
	var ads []map[string]any
	if err := json.Unmarshal(body, &ads); err != nil {
		return nil, fmt.Errorf("decode ad list: %w", err)
	}
	return ads, nil
}

// Snippet compresses a response body for log and error messages: newlines
// collapsed, truncated to a fixed length.
func Snippet(body []byte) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > bodySnippetLen {
		s = s[:bodySnippetLen] + "..."
	}
	return s
}

func payloadForLog(payload map[string]any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return Snippet(raw)
}
