package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const browseFormat = "%s/torrents/browse/list/facets/name%%3A720p/query/%s/categories/14/orderby/completed/order/desc"

// Torrent is one search hit from the indexer.
type Torrent struct {
	FID      json.Number `json:"fid"`
	Filename string      `json:"filename"`
	Seeders  int         `json:"seeders,omitempty"`
}

type searchResponse struct {
	TorrentList []Torrent `json:"torrentList"`
}

// Client talks to a TorrentLeech-style indexer: cookie-authenticated search
// plus torrent-file downloads into a local spool directory.
type Client struct {
	baseURL    string
	cookies    map[string]string
	spoolDir   string
	userAgent  string
	httpClient *http.Client
}

func NewClient(baseURL string, cookies map[string]string, spoolDir string) *Client {
	return &Client{
		baseURL:    baseURL,
		cookies:    cookies,
		spoolDir:   spoolDir,
		userAgent:  "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.userAgent)
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return req, nil
}

// Search queries the indexer and returns hits ordered by completion count.
func (c *Client) Search(ctx context.Context, query string) ([]Torrent, error) {
	endpoint := fmt.Sprintf(browseFormat, c.baseURL, url.PathEscape(query))

	req, err := c.newRequest(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search torrents: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	return parsed.TorrentList, nil
}

// Download fetches the torrent file into the spool directory and returns the
// local path.
func (c *Client) Download(ctx context.Context, torrent Torrent) (string, error) {
	if torrent.Filename == "" {
		return "", fmt.Errorf("torrent has no filename")
	}

	endpoint := fmt.Sprintf("%s/download/%s/%s", c.baseURL, torrent.FID.String(), url.PathEscape(torrent.Filename))

	req, err := c.newRequest(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download torrent: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download request returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.spoolDir, 0o755); err != nil {
		return "", fmt.Errorf("create spool directory: %w", err)
	}

	localPath := filepath.Join(c.spoolDir, filepath.Base(torrent.Filename))
	file, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local file: %w", err)
	}

	if _, err := io.Copy(file, resp.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(localPath)
		return "", fmt.Errorf("write torrent file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(localPath)
		return "", fmt.Errorf("close torrent file: %w", err)
	}

	return localPath, nil
}
