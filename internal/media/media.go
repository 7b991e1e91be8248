// Package media downloads candidate images and derives their identity:
// raw bytes, sha256 content hash, content type and a safe filename.
package media

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

// Allowed image extensions; anything else falls back to .jpg.
var safeExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// Image is one downloaded image with its content identity.
type Image struct {
	Bytes       []byte
	ContentType string
	Hash        string // sha256 hex of Bytes
}

// Config configures the downloader.
type Config struct {
	Timeout   time.Duration // default 25s
	MaxBytes  int64         // default 16MB
	UserAgent string
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 25 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 16 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "bubbleads/1.0"
	}
}

// Downloader fetches image bytes over HTTP.
type Downloader struct {
	client *http.Client
	config Config
}

// NewDownloader creates a Downloader.
func NewDownloader(cfg Config) *Downloader {
	cfg.defaults()
	return &Downloader{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

// Fetch downloads an image and computes its content hash.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", d.config.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	ctype := strings.ToLower(strings.TrimSpace(strings.SplitN(
		resp.Header.Get("Content-Type"), ";", 2)[0]))

	return &Image{
		Bytes:       body,
		ContentType: ctype,
		Hash:        fmt.Sprintf("%x", sha256.Sum256(body)),
	}, nil
}

// GuessExt derives a file extension from the content type, falling back to
// the URL path, restricted to the safe image set. Default: .jpg.
func GuessExt(contentType, rawURL string) string {
	if contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil {
			for _, e := range exts {
				if safeExts[strings.ToLower(e)] {
					return strings.ToLower(e)
				}
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); safeExts[ext] {
			return ext
		}
	}
	return ".jpg"
}

// SanitizeTag makes a tag safe for use inside a filename.
func SanitizeTag(tag string) string {
	return unsafeFilenameChars.ReplaceAllString(strings.ToLower(tag), "-")
}

// Filename builds the canonical stored name for a topic's image:
// YYYY-MM-DD_<tag>_<origin><ext>.
func Filename(day time.Time, tag, origin, ext string) string {
	origin = strings.ReplaceAll(origin, "/", "")
	return fmt.Sprintf("%s_%s_%s%s", day.Format("2006-01-02"), SanitizeTag(tag), origin, ext)
}
