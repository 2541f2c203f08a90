package main

import (
	"encoding/json"
	"flag"
	"os"

	"plexmover/pkg/config"
	"plexmover/pkg/logger"
	"plexmover/pkg/publisher"
	"plexmover/pkg/transfer"
)

func main() {
	var (
		configPath = flag.String("config", "/etc/plexmover/config.toml", "path to config file")
		watchlist  = flag.Bool("watchlist", false, "enqueue a watchlist sync")
		batchPath  = flag.String("batch", "", "path to a JSON file with a list of transfer jobs")
		sourcePath = flag.String("source", "", "local file to transfer")
		destHost   = flag.String("host", "", "destination host id")
		destPath   = flag.String("dest", "", "destination path on the remote host")
	)
	flag.Parse()

	config, err := config.LoadFromFile(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", map[string]any{
			"config_path": *configPath,
			"error":       err.Error(),
		})
	}

	publisher, err := publisher.NewPublisher(config)
	if err != nil {
		logger.Fatal("failed to create publisher", map[string]any{
			"error": err.Error(),
		})
	}
	defer publisher.Close()

	switch {
	case *watchlist:
		if err := publisher.PublishWatchlistSync(); err != nil {
			logger.Fatal("failed to publish watchlist sync", map[string]any{
				"error": err.Error(),
			})
		}
		logger.Info("watchlist sync enqueued", nil)

	case *batchPath != "":
		jobs, err := loadBatch(*batchPath)
		if err != nil {
			logger.Fatal("failed to load batch file", map[string]any{
				"batch": *batchPath,
				"error": err.Error(),
			})
		}
		if err := publisher.PublishTransferBatch(jobs); err != nil {
			logger.Fatal("failed to publish transfer batch", map[string]any{
				"error": err.Error(),
			})
		}
		logger.Info("transfer batch enqueued", map[string]any{
			"jobs": len(jobs),
		})

	case *sourcePath != "" || *destHost != "" || *destPath != "":
		if *sourcePath == "" || *destHost == "" || *destPath == "" {
			logger.Fatal("source, host and dest are all required for a single transfer", nil)
		}
		job := transfer.Job{
			SourcePath: *sourcePath,
			DestHostID: *destHost,
			DestPath:   *destPath,
		}
		if err := publisher.PublishTransferBatch([]transfer.Job{job}); err != nil {
			logger.Fatal("failed to publish transfer", map[string]any{
				"error": err.Error(),
			})
		}
		logger.Info("transfer enqueued", map[string]any{
			"source": *sourcePath,
			"host":   *destHost,
			"dest":   *destPath,
		})

	default:
		logger.Fatal("nothing to do: pass -watchlist, -batch or -source/-host/-dest", nil)
	}
}

func loadBatch(path string) ([]transfer.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var jobs []transfer.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}
