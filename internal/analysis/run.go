package analysis

import (
	"context"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/entityindex/internal/api"
	"github.com/tphakala/entityindex/internal/datastore"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/jobs"
	"github.com/tphakala/entityindex/internal/logger"
)

const defaultShutdownTimeout = 30 * time.Second

// Serve starts the workers, re-enqueues unfinished jobs and serves the
// HTTP API until ctx is cancelled. Running jobs get the configured
// shutdown timeout to finish.
func (a *App) Serve(ctx context.Context) error {
	a.Queue.Start()

	recovered, err := jobs.Recover(ctx, a.Store, a.Queue, a.Log)
	if err != nil {
		a.Log.Error("job recovery failed", logger.Error(err))
	} else if recovered > 0 {
		a.Log.Info("recovered unfinished jobs", logger.Int("count", recovered))
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.Settings.WebServer.Enabled {
		server, err := api.New(a.Settings,
			api.WithDataStore(a.Store),
			api.WithQueue(a.Queue),
			api.WithSearch(a.Search),
			api.WithLayout(a.Layout),
			api.WithMetrics(a.Metrics),
			api.WithBuildInfo(a.Build),
		)
		if err != nil {
			return errors.Join(err, a.Queue.Stop(a.shutdownTimeout()))
		}

		g.Go(func() error {
			a.Log.Info("http server listening", logger.String("address", a.Settings.WebServer.Listen))
			return server.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.Log.Info("stopping job queue")
		return a.Queue.Stop(a.shutdownTimeout())
	})

	return g.Wait()
}

func (a *App) shutdownTimeout() time.Duration {
	if t := a.Settings.Queue.ShutdownTimeout; t > 0 {
		return t
	}
	return defaultShutdownTimeout
}

// ProcessFile runs one video through the pipeline synchronously and
// returns the final job row. The file is referenced in place.
func (a *App) ProcessFile(ctx context.Context, videoPath, voicePath string, intervalSec int) (*datastore.Video, error) {
	abs, err := filepath.Abs(videoPath)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			Context("path", videoPath).
			Build()
	}
	if intervalSec <= 0 {
		intervalSec = a.Settings.Sampling.IntervalSec
	}

	v := &datastore.Video{
		Filename:     filepath.Base(abs),
		OriginalPath: abs,
		IntervalSec:  intervalSec,
	}
	if voicePath != "" {
		if v.VoicePath, err = filepath.Abs(voicePath); err != nil {
			return nil, errors.New(err).
				Component("analysis").
				Category(errors.CategoryFileIO).
				Context("path", voicePath).
				Build()
		}
	}
	if err := a.Store.Create(ctx, v); err != nil {
		return nil, err
	}

	if err := a.Orchestrator.ProcessVideo(ctx, jobs.TaskFor(v)); err != nil {
		return nil, err
	}
	return a.Store.Get(context.WithoutCancel(ctx), v.ID)
}
