package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/torrents/browse/list/"))
		assert.Contains(t, r.URL.EscapedPath(), "Severance%20S01")

		session, err := r.Cookie("tlsession")
		assert.NoError(t, err)
		assert.Equal(t, "session-value", session.Value)

		_, _ = w.Write([]byte(`{
			"torrentList": [
				{"fid": 123456, "filename": "Severance.S01.720p.torrent", "seeders": 42},
				{"fid": "789", "filename": "Severance.S01.720p.x265.torrent", "seeders": 7}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, map[string]string{"tlsession": "session-value"}, t.TempDir())
	hits, err := client.Search(context.Background(), "Severance S01")

	assert.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, json.Number("123456"), hits[0].FID)
	assert.Equal(t, "Severance.S01.720p.torrent", hits[0].Filename)
	assert.Equal(t, 42, hits[0].Seeders)
	assert.Equal(t, "789", hits[1].FID.String())
}

func TestSearchNoHits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"torrentList": []}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, t.TempDir())
	hits, err := client.Search(context.Background(), "does not exist")

	assert.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, t.TempDir())
	_, err := client.Search(context.Background(), "anything")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestDownload(t *testing.T) {
	const torrentBytes = "d8:announce35:fake"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/download/123456/Severance.S01.720p.torrent", r.URL.Path)
		_, _ = w.Write([]byte(torrentBytes))
	}))
	defer server.Close()

	spoolDir := filepath.Join(t.TempDir(), "spool")
	client := NewClient(server.URL, nil, spoolDir)

	localPath, err := client.Download(context.Background(), Torrent{
		FID:      json.Number("123456"),
		Filename: "Severance.S01.720p.torrent",
	})

	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(spoolDir, "Severance.S01.720p.torrent"), localPath)

	content, err := os.ReadFile(localPath)
	assert.NoError(t, err)
	assert.Equal(t, torrentBytes, string(content))
}

func TestDownloadMissingFilename(t *testing.T) {
	client := NewClient("http://unused", nil, t.TempDir())
	_, err := client.Download(context.Background(), Torrent{FID: json.Number("1")})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no filename")
}

func TestDownloadServerFailureLeavesNoFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	spoolDir := t.TempDir()
	client := NewClient(server.URL, nil, spoolDir)

	_, err := client.Download(context.Background(), Torrent{
		FID:      json.Number("1"),
		Filename: "gone.torrent",
	})

	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(spoolDir, "gone.torrent"))
	assert.True(t, os.IsNotExist(statErr))
}
