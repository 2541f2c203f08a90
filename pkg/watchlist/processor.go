package watchlist

import (
	"context"
	"fmt"
	"path"

	"plexmover/pkg/indexer"
	"plexmover/pkg/logger"
	"plexmover/pkg/plex"
	"plexmover/pkg/transfer"
)

// Fetcher provides the watchlist. *plex.Client satisfies it.
type Fetcher interface {
	FetchWatchlist(ctx context.Context) ([]plex.MediaItem, error)
}

// TorrentSource searches and downloads torrent files. *indexer.Client
// satisfies it.
type TorrentSource interface {
	Search(ctx context.Context, query string) ([]indexer.Torrent, error)
	Download(ctx context.Context, torrent indexer.Torrent) (string, error)
}

// Options places downloaded torrent files under the remote watch directory,
// split into series and films subdirectories.
type Options struct {
	HostID     string
	WatchDir   string
	SeriesDir  string
	FilmsDir   string
	MaxSeasons int
}

// Processor turns a Plex watchlist into a batch of transfer jobs: one
// torrent-file download per matched query, destined for the remote host whose
// download client watches the directory.
type Processor struct {
	watchlist Fetcher
	torrents  TorrentSource
	opts      Options
	log       *logger.Logger
}

func NewProcessor(watchlist Fetcher, torrents TorrentSource, opts Options) *Processor {
	if opts.MaxSeasons <= 0 {
		opts.MaxSeasons = 9
	}
	if opts.SeriesDir == "" {
		opts.SeriesDir = "series"
	}
	if opts.FilmsDir == "" {
		opts.FilmsDir = "films"
	}
	return &Processor{
		watchlist: watchlist,
		torrents:  torrents,
		opts:      opts,
		log:       logger.NewDefault(),
	}
}

// BuildJobs fetches the watchlist and prepares one transfer job per fetched
// torrent file. Individual item failures are logged and skipped so a single
// dead search cannot sink the batch.
func (p *Processor) BuildJobs(ctx context.Context) ([]*transfer.Job, error) {
	items, err := p.watchlist.FetchWatchlist(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch watchlist: %w", err)
	}
	if len(items) == 0 {
		p.log.Warn("no items found in the watchlist", nil)
		return nil, nil
	}

	var jobs []*transfer.Job
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return jobs, err
		}

		var itemJobs []*transfer.Job
		if item.IsShow() {
			itemJobs = p.showJobs(ctx, item)
		} else {
			itemJobs = p.movieJobs(ctx, item)
		}
		jobs = append(jobs, itemJobs...)

		p.log.Info("processed watchlist item", map[string]any{
			"title": item.Title,
			"type":  item.Type,
			"jobs":  len(itemJobs),
		})
	}
	return jobs, nil
}

func (p *Processor) showJobs(ctx context.Context, item plex.MediaItem) []*transfer.Job {
	var jobs []*transfer.Job
	for season := 1; season <= p.opts.MaxSeasons; season++ {
		query := fmt.Sprintf("%s S%02d", item.Title, season)
		if job := p.fetchFirstHit(ctx, query, p.opts.SeriesDir); job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func (p *Processor) movieJobs(ctx context.Context, item plex.MediaItem) []*transfer.Job {
	query := item.Title
	if item.Year > 0 {
		query = fmt.Sprintf("%s %d", item.Title, item.Year)
	}
	if job := p.fetchFirstHit(ctx, query, p.opts.FilmsDir); job != nil {
		return []*transfer.Job{job}
	}
	return nil
}

// fetchFirstHit downloads the top search hit and maps it to a transfer job,
// or nil when the query finds nothing usable.
func (p *Processor) fetchFirstHit(ctx context.Context, query, mediaDir string) *transfer.Job {
	hits, err := p.torrents.Search(ctx, query)
	if err != nil {
		p.log.Error("torrent search failed", err, map[string]any{"query": query})
		return nil
	}
	if len(hits) == 0 {
		p.log.Warn("no torrents found", map[string]any{"query": query})
		return nil
	}

	localPath, err := p.torrents.Download(ctx, hits[0])
	if err != nil {
		p.log.Error("torrent download failed", err, map[string]any{
			"query":    query,
			"filename": hits[0].Filename,
		})
		return nil
	}

	return &transfer.Job{
		SourcePath: localPath,
		DestHostID: p.opts.HostID,
		DestPath:   path.Join(p.opts.WatchDir, mediaDir, path.Base(hits[0].Filename)),
	}
}
