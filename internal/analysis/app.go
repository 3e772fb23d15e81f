// Package analysis assembles the processing pipeline from settings and
// runs it either as a long lived service or for a single video.
package analysis

import (
	"context"
	"net/http"
	"time"

	"github.com/tphakala/entityindex/internal/aggregate"
	"github.com/tphakala/entityindex/internal/artifacts"
	"github.com/tphakala/entityindex/internal/buildinfo"
	"github.com/tphakala/entityindex/internal/canon"
	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/datastore"
	"github.com/tphakala/entityindex/internal/detection"
	"github.com/tphakala/entityindex/internal/embedding"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/frames"
	"github.com/tphakala/entityindex/internal/httpclient"
	"github.com/tphakala/entityindex/internal/jobs"
	"github.com/tphakala/entityindex/internal/labelindex"
	"github.com/tphakala/entityindex/internal/logger"
	"github.com/tphakala/entityindex/internal/observability"
	"github.com/tphakala/entityindex/internal/privacy"
	"github.com/tphakala/entityindex/internal/search"
	"github.com/tphakala/entityindex/internal/toolexec"
	"github.com/tphakala/entityindex/internal/transcript"
)

// App holds the wired components. Index and Transcriber are nil when
// disabled.
type App struct {
	Settings     *conf.Settings
	Build        *buildinfo.Info
	Log          logger.Logger
	Store        datastore.Interface
	Layout       *artifacts.Layout
	Metrics      *observability.Metrics
	Ensemble     *detection.Ensemble
	Index        *labelindex.Index
	Transcriber  *transcript.Transcriber
	Search       *search.Service
	Orchestrator *jobs.Orchestrator
	Queue        *jobs.Queue

	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	store      datastore.Interface
	runner     toolexec.Runner
	httpClient *http.Client
}

// WithDataStore uses store instead of the configured database.
func WithDataStore(store datastore.Interface) Option {
	return func(o *options) { o.store = store }
}

// WithRunner replaces the external tool runner.
func WithRunner(r toolexec.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithHTTPClient sets the client used for provider calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// New builds every component from settings. On error anything already
// opened is closed again.
func New(ctx context.Context, settings *conf.Settings, build *buildinfo.Info, opts ...Option) (app *App, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.runner == nil {
		o.runner = toolexec.Exec{Timeout: settings.Sampling.Timeout}
	}

	a := &App{
		Settings: settings,
		Build:    build,
		Log:      logger.Global().Module("analysis"),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, build.String()); err != nil {
			// telemetry is optional
			a.Log.Warn("sentry initialization failed", logger.Error(err))
		}
	}

	if err := a.openStore(o.store); err != nil {
		return nil, err
	}

	a.Layout = artifacts.New(settings.Main.DataDir)
	if err := a.Layout.Ensure(); err != nil {
		return nil, err
	}

	if a.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_metrics").
			Build()
	}

	tables, err := canon.LoadTables(settings.Detection.SynonymsPath)
	if err != nil {
		return nil, err
	}
	canonicalizer := canon.New(tables)

	p := settings.Provider
	a.Log.Info("model provider configured",
		logger.String("base_url", privacy.RedactURL(p.BaseURL)),
		logger.String("vision_model", p.VisionModel),
		logger.String("image_embedding_model", p.ImageEmbeddingModel))
	if o.httpClient == nil {
		o.httpClient = providerClient(p.Timeout, build)
	}
	textClient := embedding.NewClient(p.APIKey, p.BaseURL, p.Timeout, o.httpClient)

	deps := detection.Deps{
		Canon:    canonicalizer,
		Runner:   o.runner,
		Recorder: a.Metrics.Detector,
		Log:      logger.Global().Module("detection"),
	}
	if p.ImageEmbeddingModel != "" {
		base := p.ImageEmbeddingBaseURL
		if base == "" {
			base = p.BaseURL
		}
		imageClient := embedding.NewClient(p.APIKey, base, p.Timeout, o.httpClient)
		deps.Embedder = detection.NewCachedEmbedder(imageClient.Model(p.ImageEmbeddingModel), settings.LabelIndex.CacheTTL)
	}
	if p.VisionModel != "" {
		deps.Captions = detection.NewOpenAICaptioner(textClient.OpenAI(), p.VisionModel, settings.Detection.Discovery.Prompt)
	}
	a.Ensemble = detection.NewFromSettings(&settings.Detection, deps)
	a.closers = append(a.closers, a.Ensemble.Close)

	if settings.Transcription.Enabled {
		a.Transcriber = transcript.New(textClient.OpenAI(), transcript.Options{
			Model:      p.TranscriptionModel,
			Language:   settings.Transcription.Language,
			FfmpegPath: settings.Sampling.FfmpegPath,
			Runner:     o.runner,
			Log:        logger.Global().Module("transcript"),
		})
	}

	if settings.LabelIndex.Enabled {
		if err := a.openIndex(ctx, textClient.Model(p.EmbeddingModel)); err != nil {
			return nil, err
		}
	}

	a.wirePipeline(o.runner)
	return a, nil
}

// providerClient logs every provider round trip at debug level.
func providerClient(timeout time.Duration, build *buildinfo.Info) *http.Client {
	log := logger.Global().Module("provider")
	return httpclient.New(httpclient.Config{
		Timeout:   timeout,
		UserAgent: "entityindex/" + build.GetVersion(),
		Observer: func(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("url", privacy.RedactURL(req.URL.String())),
				logger.Duration("elapsed", elapsed),
			}
			if err != nil {
				log.Debug("provider request failed", append(fields, logger.Error(privacy.WrapError(err)))...)
				return
			}
			log.Debug("provider request", append(fields, logger.Int("status", resp.StatusCode))...)
		},
	})
}

func (a *App) openStore(store datastore.Interface) error {
	if store == nil {
		var err error
		if store, err = datastore.New(a.Settings); err != nil {
			return err
		}
	}
	if err := store.Open(); err != nil {
		return err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *App) openIndex(ctx context.Context, embedder labelindex.Embedder) error {
	s := a.Settings.LabelIndex
	var backend labelindex.Backend
	switch s.Backend {
	case "pgvector":
		pg, err := labelindex.NewPgvectorBackend(ctx, s.Postgres.DSN, s.Postgres.Table, s.Postgres.Dimensions)
		if err != nil {
			return err
		}
		backend = pg
	case "", "file":
		backend = labelindex.NewFileBackend(a.Layout.IndexPath())
	default:
		return errors.Newf("unknown label index backend %q", s.Backend).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}
	a.Index = labelindex.New(backend, embedder, s.CacheTTL, logger.Global().Module("labelindex"))
	a.closers = append(a.closers, a.Index.Close)
	return nil
}

// wirePipeline connects sampler, detectors, aggregator and index into the
// orchestrator and puts the queue in front of it. Optional collaborators
// are only assigned when present so the interfaces stay nil.
func (a *App) wirePipeline(runner toolexec.Runner) {
	s := a.Settings
	deps := jobs.Deps{
		Store:     a.Store,
		Layout:    a.Layout,
		Sampler:   frames.NewSampler(&s.Sampling, runner, logger.Global().Module("frames")),
		Detectors: a.Ensemble,
		Aggregator: aggregate.New(aggregate.Options{
			MinRun:          s.Aggregation.MinRun,
			OpenVocabMinRun: s.Aggregation.OpenVocabMinRun,
			DiscoveryMinRun: s.Aggregation.DiscoveryMinRun,
			MinScore:        s.Aggregation.MinScore,
		}),
		Recorder: a.Metrics.Jobs,
		Log:      logger.Global().Module("jobs"),
	}
	searchLog := logger.Global().Module("search")
	if a.Transcriber != nil {
		deps.Transcriber = a.Transcriber
	}
	if a.Index != nil {
		deps.Index = a.Index
		a.Search = search.NewService(a.Store, a.Index, searchLog)
	} else {
		a.Search = search.NewService(a.Store, nil, searchLog)
	}

	a.Orchestrator = jobs.NewOrchestrator(deps)
	a.Queue = jobs.NewQueue(a.Orchestrator.ProcessVideo, jobs.QueueOptions{
		Workers:    s.Queue.Workers,
		MaxPending: s.Queue.MaxPending,
		Retry:      jobs.DefaultRetryConfig(s.Queue.MaxRetries, s.Queue.RetryDelay),
		Metrics:    a.Metrics.Queue,
		Log:        logger.Global().Module("queue"),
	})
}

// Close releases components in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
