package mirror

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dmitrijs2005/s3mirror/internal/logging"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/config"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/fsops"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/ingress"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/queue"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/reconcile"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/remote"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/subscription"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/transform"
)

const unsubscribeTimeout = 15 * time.Second

// App assembles and runs the mirror: queue, file operations, remote client,
// reconciler and — when configured — the notification ingress with its
// subscription.
type App struct {
	cfg *config.Config
	log logging.Logger

	queue      *queue.Queue
	ops        *fsops.Ops
	client     *remote.Client
	executor   *Executor
	reconciler *reconcile.Reconciler
	sub        *subscription.Manager // nil unless topic/endpoint configured
	server     *ingress.Server       // nil unless a port is configured
	pipeline   *transform.Pipeline

	cancel      context.CancelFunc
	syncRunning atomic.Bool
}

// NewApp validates the configuration and builds every component. Errors
// here are fatal start-up failures.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewForLevel(cfg.Log)
	app := &App{cfg: cfg, log: logger.With("module", "app")}

	app.pipeline = cfg.Pipeline(transform.HostProfile())

	var err error
	app.ops, err = fsops.New(fsops.Options{
		Root:           cfg.RootDir,
		TmpDir:         cfg.TmpDir,
		TmpSuffix:      cfg.TmpSuffix,
		PruneEmptyDirs: cfg.PruneEmptyDirs,
		Pipeline:       app.pipeline,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	app.client, err = remote.NewClient(ctx, remote.Options{
		Bucket:       cfg.Bucket,
		Region:       cfg.Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		UsePathStyle: cfg.S3UsePathStyle,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	app.queue = queue.New(queue.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		DefaultTimeout: cfg.TaskTimeout,
		OnError:        app.onTaskError,
		Logger:         logger,
	})

	app.executor = NewExecutor(app.queue, app.ops, app.client, cfg.TaskTimeout, logger)
	app.reconciler = reconcile.New(app.executor, cfg.Remove, logger)

	if cfg.TopicARN != "" {
		app.sub, err = subscription.New(ctx, subscription.Options{
			TopicARN:     cfg.TopicARN,
			Endpoint:     cfg.Endpoint,
			Region:       cfg.Region,
			BaseEndpoint: cfg.SNSBaseEndpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Port > 0 {
		var validator *ingress.Validator
		if !cfg.IgnoreMessageValidation {
			validator, err = ingress.NewValidator(http.DefaultClient, "")
			if err != nil {
				return nil, err
			}
		}

		dispatcher := ingress.NewDispatcher(app.executor, cfg.Bucket, cfg.Prefix, cfg.Suffix, app.pipeline, logger)

		var confirmer ingress.Confirmer
		if app.sub != nil {
			confirmer = app.sub
		}

		app.server, err = ingress.NewServer(ingress.ServerOptions{
			Host:        cfg.Host,
			Port:        cfg.Port,
			CertPath:    cfg.HTTPSCertPath,
			CertKeyPath: cfg.HTTPSCertKeyPath,
			Path:        cfg.HTTPPath,
			Validator:   validator,
			Dispatcher:  dispatcher,
			Confirmer:   confirmer,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
	}

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts everything and blocks until the context is cancelled or a
// signal arrives, then drains. A non-nil error is an unrecoverable
// start-up failure (bad bind, failed subscribe, hard remote error on the
// initial sync).
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	app.cancel = cancel

	app.log.Info(ctx, "starting mirror", "bucket", app.cfg.Bucket, "root_dir", app.cfg.RootDir)

	app.initSignalHandler(cancel)

	var wg sync.WaitGroup

	if app.server != nil {
		if err := app.server.Listen(); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.server.Serve(ctx); err != nil {
				app.log.Error(ctx, "ingress server failed", "error", err)
				cancel()
			}
		}()
	}

	if app.sub != nil {
		if err := app.sub.Subscribe(ctx); err != nil {
			cancel()
			wg.Wait()
			return err
		}
	}

	if !app.cfg.SkipInitialSync {
		if err := app.fullSync(ctx); err != nil {
			if IsHard(err) {
				cancel()
				wg.Wait()
				return err
			}
			app.log.Error(ctx, "initial sync failed", "error", err)
		}
	}

	if app.cfg.ResyncInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.resyncLoop(ctx)
		}()
	}

	<-ctx.Done()

	app.shutdown()
	wg.Wait()

	app.log.Info(context.Background(), "mirror stopped")
	return nil
}

// fullSync runs one list-and-compare pass. A second invocation while one
// is still running is a no-op.
func (app *App) fullSync(ctx context.Context) error {
	if !app.syncRunning.CompareAndSwap(false, true) {
		app.log.Info(ctx, "sync already running, skipping")
		return nil
	}
	defer app.syncRunning.Store(false)

	app.log.Info(ctx, "starting full sync")

	remoteObjs, err := app.client.ListAll(ctx, remote.ListOptions{
		Prefix:   app.cfg.Prefix,
		Suffix:   app.cfg.Suffix,
		MaxKeys:  app.cfg.MaxKeys,
		Pipeline: app.pipeline,
	})
	if err != nil {
		return fmt.Errorf("remote listing: %w", err)
	}

	local, err := app.ops.List()
	if err != nil {
		return fmt.Errorf("local listing: %w", err)
	}

	stats, err := app.reconciler.Run(ctx, remoteObjs, local)
	if err != nil {
		return err
	}

	app.log.Info(ctx, "full sync submitted",
		"remote_objects", len(remoteObjs), "local_entries", len(local),
		"writes", stats.Writes, "file_removes", stats.FileRemoves, "dir_removes", stats.DirRemoves)
	return nil
}

func (app *App) resyncLoop(ctx context.Context) {
	t := time.NewTicker(app.cfg.ResyncInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := app.fullSync(ctx); err != nil {
				app.log.Error(ctx, "resync failed", "error", err)
				if IsHard(err) {
					app.cancel()
					return
				}
			}
		}
	}
}

// onTaskError handles failures escaping queued tasks. Hard remote errors
// shut the process down; everything else is logged and the mirror keeps
// going.
func (app *App) onTaskError(key string, err error) {
	if IsHard(err) {
		app.log.Error(context.Background(), "unrecoverable task failure, shutting down", "key", key, "error", err)
		if app.cancel != nil {
			app.cancel()
		}
		return
	}
	app.log.Error(context.Background(), "task failed", "key", key, "error", err)
}

func (app *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()

	if app.sub != nil && !app.cfg.IgnoreUnsubscribeOnShutdown {
		if err := app.sub.Unsubscribe(ctx); err != nil {
			app.log.Error(ctx, "unsubscribe failed", "error", err)
		}
	}

	if err := app.queue.Close(app.cfg.ShutdownTimeout); err != nil {
		app.log.Warn(ctx, "queue drain escalated", "error", err)
	}
}
