package daemon

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"plexmover/pkg/cache"
	"plexmover/pkg/config"
	"plexmover/pkg/handler"
	"plexmover/pkg/indexer"
	"plexmover/pkg/logger"
	"plexmover/pkg/notify"
	"plexmover/pkg/plex"
	"plexmover/pkg/shared"
	"plexmover/pkg/sshpool"
	"plexmover/pkg/store"
	"plexmover/pkg/transfer"
	"plexmover/pkg/trigger"
	"plexmover/pkg/watchlist"
)

// DaemonService owns the asynq consumer and everything the transfer
// orchestrator needs: the session pool, the scheduler stack, the run store
// and the notifier.
type DaemonService struct {
	server           *asynq.Server
	asyncClient      *asynq.Client
	redisClient      *redis.Client
	pool             *sshpool.Pool
	runStore         store.RunStore
	transferHandler  *handler.TransferHandler
	watchlistHandler *handler.WatchlistHandler
	commandHandler   *handler.RemoteCommandHandler
	config           *config.Config
}

func NewDaemonService(config *config.Config) (*DaemonService, error) {
	logger.SetDefaultLevel(logger.ParseLevel(config.Daemon.LogLevel))

	redisOpt := asynq.RedisClientOpt{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: config.Daemon.Concurrency,
		Queues: map[string]int{
			"default": 6,
		},
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	asyncClient := asynq.NewClient(redisOpt)

	creds := make([]sshpool.Credential, 0, len(config.Hosts))
	for hostID, host := range config.Hosts {
		creds = append(creds, sshpool.Credential{
			HostID:     hostID,
			Address:    host.Address,
			Port:       host.Port,
			Username:   host.Username,
			Password:   host.Password,
			PrivateKey: host.PrivateKey,
		})
	}

	pool := sshpool.New(sshpool.NewCredentialStore(creds), sshpool.Options{
		PerHostLimit:   config.Run.PerHostConcurrency,
		IdleTTL:        time.Duration(config.Run.SessionIdleTTLSeconds) * time.Second,
		ConnectTimeout: time.Duration(config.Run.ConnectionTimeoutSeconds) * time.Second,
	})

	var existenceCache transfer.ExistenceCache
	if config.Cache.Enabled {
		existenceCache = cache.NewRemoteFileCache(redisClient, time.Duration(config.Cache.TTLSeconds)*time.Second)
	}

	engine := transfer.NewEngine(existenceCache, config.Cache.MaxConcurrentChecks)
	retryer := transfer.NewRetryer(pool, engine, transfer.RetryPolicy{
		MaxAttempts: config.Run.MaxAttempts,
		BaseDelay:   time.Duration(config.Run.RetryDelaySeconds) * time.Second,
		MaxDelay:    time.Duration(config.Run.MaxRetryDelaySeconds) * time.Second,
	}, time.Duration(config.Run.TransferTimeoutSeconds)*time.Second)
	scheduler := transfer.NewScheduler(retryer, config.Run.SchedulerConcurrency)

	runStore, err := store.NewBoltStore(config.Store.Path)
	if err != nil {
		return nil, err
	}

	notifier := notify.NewWebhook(config.Notify.WebhookURL, time.Duration(config.Notify.TimeoutSeconds)*time.Second)

	var debouncer *trigger.Debouncer
	if config.Trigger.Enabled {
		debouncer = trigger.NewDebouncer(redisClient, asyncClient, &config.Trigger, logger.NewDefault())
	}

	runner := handler.NewRunner(scheduler, pool, runStore, notifier, debouncer)
	transferHandler := handler.NewTransferHandler(runner)

	var processor *watchlist.Processor
	if config.Plex.Token != "" {
		plexClient := plex.NewClient(config.Plex.BaseURL, config.Plex.Token)
		torrentClient := indexer.NewClient(config.Indexer.BaseURL, config.Indexer.Cookies, config.Indexer.SpoolDir)
		processor = watchlist.NewProcessor(plexClient, torrentClient, watchlist.Options{
			HostID:     config.Watchlist.Host,
			WatchDir:   config.Watchlist.WatchDir,
			SeriesDir:  config.Watchlist.SeriesDir,
			FilmsDir:   config.Watchlist.FilmsDir,
			MaxSeasons: config.Watchlist.MaxSeasons,
		})
	}
	watchlistHandler := handler.NewWatchlistHandler(processor, runner)

	var commandHandler *handler.RemoteCommandHandler
	if debouncer != nil {
		commandHandler = handler.NewRemoteCommandHandler(&config.Trigger, pool, debouncer, asyncClient)
	}

	return &DaemonService{
		server:           server,
		asyncClient:      asyncClient,
		redisClient:      redisClient,
		pool:             pool,
		runStore:         runStore,
		transferHandler:  transferHandler,
		watchlistHandler: watchlistHandler,
		commandHandler:   commandHandler,
		config:           config,
	}, nil
}

func (d *DaemonService) Start() error {
	logger.Info("starting task server", map[string]any{
		"concurrency": d.config.Daemon.Concurrency,
		"hosts":       len(d.config.Hosts),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(shared.TaskTypeTransferBatch, d.transferHandler.Handle)
	mux.HandleFunc(shared.TaskTypeWatchlistSync, d.watchlistHandler.Handle)
	if d.commandHandler != nil {
		mux.HandleFunc(shared.TaskTypeRemoteCommand, d.commandHandler.Handle)
	}
	return d.server.Run(mux)
}

func (d *DaemonService) Shutdown(ctx context.Context) error {
	logger.Info("initiating graceful shutdown", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.server.Shutdown()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("shutdown timeout, forcing exit", nil)
		return ctx.Err()
	}

	_ = d.pool.Close()
	if err := d.runStore.Close(); err != nil {
		logger.Error("failed to close run store", err, nil)
	}
	_ = d.asyncClient.Close()
	_ = d.redisClient.Close()

	logger.Info("all tasks completed, shutdown successful", nil)
	return nil
}
