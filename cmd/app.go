package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/camflow/internal/ai"
	"github.com/kozaktomas/camflow/internal/config"
	"github.com/kozaktomas/camflow/internal/constants"
	"github.com/kozaktomas/camflow/internal/database"
	"github.com/kozaktomas/camflow/internal/database/postgres"
	"github.com/kozaktomas/camflow/internal/database/redis"
	"github.com/kozaktomas/camflow/internal/database/sqlite"
	"github.com/kozaktomas/camflow/internal/delivery"
	"github.com/kozaktomas/camflow/internal/embedding"
	"github.com/kozaktomas/camflow/internal/facematch"
	"github.com/kozaktomas/camflow/internal/handoff"
	"github.com/kozaktomas/camflow/internal/imagesource"
	"github.com/kozaktomas/camflow/internal/inference"
	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/kozaktomas/camflow/internal/persongroup"
	"github.com/kozaktomas/camflow/internal/pipeline"
	"github.com/kozaktomas/camflow/internal/progress"
	"github.com/kozaktomas/camflow/internal/runner"
	"github.com/kozaktomas/camflow/internal/sessionlog"
	"go.uber.org/zap"
)

// app holds every component a command may need, built from the environment.
type app struct {
	cfg        *config.Config
	store      database.Store
	pool       *postgres.Pool // only with the postgres driver
	images     *imagesource.Resolver
	models     *ai.Registry
	inference  *inference.Client
	extractor  *embedding.Extractor
	persons    *persongroup.Store
	recognizer *facematch.Recognizer
	dispatcher *delivery.Dispatcher
	sessions   *sessionlog.Log
	statuses   *progress.Store
	runner     *runner.Runner
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	images, err := newImageResolver(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.images = images

	models, err := newModelRegistry(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.models = models

	a.inference = inference.NewClient(cfg.Inference.URL)
	detector := inference.NewDetector(a.inference, constants.FaceMinScore)
	extractorOpts := []embedding.Option{embedding.WithDim(cfg.Inference.Dim)}
	if limit := cfg.Inference.MemoryLimitBytes(); limit > 0 {
		extractorOpts = append(extractorOpts, embedding.WithMemoryLimit(limit))
	}
	a.extractor = embedding.New(inference.NewEngine(a.inference), extractorOpts...)
	a.persons = persongroup.Open(ctx, a.store, detector, a.extractor)

	index, err := a.faceIndex()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.recognizer = &facematch.Recognizer{
		Detector:  detector,
		Extractor: a.extractor,
		Matcher: facematch.NewMatcher(a.persons,
			facematch.WithIndex(index),
			facematch.WithThreshold(cfg.Matching.Threshold),
		),
	}

	a.dispatcher = delivery.NewDispatcher()
	if cfg.TelegramEnabled() {
		a.dispatcher.Register(delivery.KindTelegram, delivery.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.APIURL))
	}
	a.dispatcher.Register(delivery.KindEmail, delivery.NewEmail(
		cfg.Mail.APIURL, cfg.Mail.From, delivery.StaticSession(cfg.Mail.AccessToken),
	))

	a.sessions = sessionlog.New(a.store)
	a.statuses = progress.NewStore(a.store)
	a.runner = runner.New(runner.Deps{
		Registry: handoff.NewRegistry(),
		Pipeline: pipeline.New(a.images,
			pipeline.WithRecognizer(a.recognizer),
			pipeline.WithPause(cfg.Pipeline.InterImagePause),
		),
		Sender:     a.dispatcher,
		Images:     a.images,
		Sessions:   a.sessions,
		Statuses:   a.statuses,
		Models:     a.models,
		Settings:   a.store,
		FaceEngine: a.inference,
	})

	return a, nil
}

// openStore opens the document store selected by CAMFLOW_STORAGE.
func (a *app) openStore(ctx context.Context) error {
	log := logger.FromContext(ctx)
	sc := a.cfg.Storage

	switch sc.Driver {
	case "memory":
		a.store = database.NewMemoryStore()
	case "sqlite":
		s, err := sqlite.Open(ctx, sc.Path)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.store = s
	case "redis":
		s, err := redis.NewStore(redis.Config{
			Addrs:     sc.RedisAddrs,
			Password:  sc.RedisPass,
			KeyPrefix: sc.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.store = s
	case "postgres":
		if sc.DatabaseURL == "" {
			return errors.New("DATABASE_URL environment variable is required for the postgres store")
		}
		pool, err := postgres.Open(ctx, sc.DatabaseURL)
		if err != nil {
			return err
		}
		a.pool = pool
		a.store = postgres.NewDocumentStore(pool)
	default:
		return fmt.Errorf("unknown storage driver %q", sc.Driver)
	}

	log.Debug("store opened", zap.String("driver", sc.Driver))
	return nil
}

// faceIndex returns the nearest neighbour index selected by MATCH_INDEX.
func (a *app) faceIndex() (facematch.Index, error) {
	switch a.cfg.Matching.Index {
	case "", "linear":
		return facematch.NewLinearIndex(), nil
	case "hnsw":
		return facematch.NewHNSWIndex(a.cfg.Matching.HNSWIndexPath), nil
	case "pgvector":
		if a.pool == nil {
			return nil, errors.New("the pgvector index needs CAMFLOW_STORAGE=postgres")
		}
		return postgres.NewFaceIndex(a.pool), nil
	default:
		return nil, fmt.Errorf("unknown match index %q", a.cfg.Matching.Index)
	}
}

func newImageResolver(ctx context.Context, cfg *config.Config) (*imagesource.Resolver, error) {
	opts := []imagesource.Option{
		imagesource.WithCache(cfg.Pipeline.ImageCacheSize, cfg.Pipeline.ImageCacheTTL),
		imagesource.WithLocalRoot(cfg.Web.ImageRoot),
	}
	if cfg.S3.Region != "" || cfg.S3.Endpoint != "" {
		src, err := imagesource.NewS3Source(ctx, imagesource.S3Config{
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, imagesource.WithS3(src))
	}
	return imagesource.NewResolver(opts...), nil
}

// newModelRegistry makes every catalog model resolvable whose provider is configured.
// Local runtimes are always registered; readiness is checked when a task starts.
func newModelRegistry(cfg *config.Config) (*ai.Registry, error) {
	catalog, err := ai.LoadCatalog()
	if err != nil {
		return nil, err
	}
	reg := ai.NewRegistry(catalog)
	genOpts := []ai.Option{ai.WithMaxTokens(constants.MaxAnalysisTokens)}

	reg.RegisterProvider("ollama", func(_ context.Context, info ai.ModelInfo) (ai.Generator, error) {
		model := info.Model
		if model == "" {
			model = cfg.Ollama.Model
		}
		return ai.NewOllamaProvider(cfg.Ollama.URL, model, genOpts...), nil
	})
	reg.RegisterProvider("llamacpp", func(_ context.Context, info ai.ModelInfo) (ai.Generator, error) {
		return ai.NewLlamaCppProvider(cfg.LlamaCpp.URL, info.Model, genOpts...)
	})
	if cfg.Gemini.APIKey != "" {
		reg.RegisterProvider("gemini", func(ctx context.Context, info ai.ModelInfo) (ai.Generator, error) {
			return ai.NewGeminiProvider(ctx, cfg.Gemini.APIKey, info.Model, genOpts...)
		})
	}
	if cfg.OpenAI.Token != "" {
		reg.RegisterProvider("openai", func(_ context.Context, info ai.ModelInfo) (ai.Generator, error) {
			return ai.NewOpenAIProvider(cfg.OpenAI.Token, info.Model, genOpts...), nil
		})
	}
	return reg, nil
}

// Close releases the extractor and the store.
func (a *app) Close() {
	if a.extractor != nil {
		_ = a.extractor.Close()
	}
	// the postgres document store owns the pool
	if a.store != nil {
		_ = a.store.Close()
	}
}
