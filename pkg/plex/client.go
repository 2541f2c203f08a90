package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://discover.provider.plex.tv"

// MediaItem is one entry of a user's watchlist.
type MediaItem struct {
	Title string `json:"title"`
	Type  string `json:"type"`
	Year  int    `json:"year"`
}

// IsShow reports whether the item is a series rather than a movie.
func (m MediaItem) IsShow() bool {
	return m.Type == "show"
}

type watchlistResponse struct {
	MediaContainer struct {
		Metadata []MediaItem `json:"Metadata"`
	} `json:"MediaContainer"`
}

// Client fetches a user's watchlist from the Plex discover API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchWatchlist returns the released items on the account's watchlist.
func (c *Client) FetchWatchlist(ctx context.Context) ([]MediaItem, error) {
	endpoint := fmt.Sprintf("%s/library/sections/watchlist/released?%s",
		c.baseURL, url.Values{"X-Plex-Token": {c.token}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build watchlist request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch watchlist: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("watchlist request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read watchlist response: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty watchlist response")
	}

	var parsed watchlistResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse watchlist response: %w", err)
	}
	return parsed.MediaContainer.Metadata, nil
}
