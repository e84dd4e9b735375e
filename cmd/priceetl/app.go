package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"priceetl/internal/config"
	"priceetl/internal/jobs"
	"priceetl/internal/logging"
	"priceetl/internal/pipeline"
	"priceetl/internal/queue"
	"priceetl/internal/source"
	"priceetl/internal/storage"

	// Every backend is compiled in; the config picks one.
	_ "priceetl/internal/storage/all"
)

type app struct {
	cfgPath string
	stdout  io.Writer
	stderr  io.Writer
}

// env is everything one command runs with. Close releases it in reverse
// order of acquisition.
type env struct {
	cfg        config.Config
	log        *logrus.Logger
	repo       storage.Repository
	pipe       *pipeline.Pipeline
	dispatcher queue.Dispatcher
	pubsub     *queue.PubSub
	closers    []func() error
}

func (e *env) onClose(fn func() error) { e.closers = append(e.closers, fn) }

func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// open loads the config and connects storage, metrics, the locker and the
// dispatcher. The schema is ensured on every start.
func (a *app) open(ctx context.Context) (_ *env, err error) {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, a.stderr)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	cleanup, err := initMetrics(ctx, "priceetl", cfg.Metrics.Backend, cfg.Metrics.Tags, cfg.Metrics.FlushEvery.Duration)
	if err != nil {
		return nil, err
	}
	e.onClose(func() error {
		cleanup()
		return nil
	})

	repo, err := storage.New(ctx, storage.Config{
		Kind:         cfg.Storage.Kind,
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	e.repo = repo
	e.onClose(repo.Close)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	locker, closeLocker, err := jobs.NewLocker(ctx, cfg.Lock, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("locker: %w", err)
	}
	e.onClose(closeLocker)

	opener := source.NewOpener(cfg.GCP.ClientOptions()...)
	e.onClose(opener.Close)

	e.pipe = pipeline.New(pipeline.Deps{
		Repo:   repo,
		Config: cfg,
		Log:    log,
		Locker: locker,
		Opener: opener,
	})

	switch cfg.Queue.Kind {
	case "pubsub":
		ps, err := queue.NewPubSub(ctx, cfg.Queue.Project, cfg.Queue.Topic, log, cfg.GCP.ClientOptions()...)
		if err != nil {
			return nil, err
		}
		e.pubsub = ps
		e.dispatcher = ps
	default:
		e.dispatcher = queue.NewInline(e.pipe.Handle, false, log)
	}
	e.onClose(e.dispatcher.Close)
	e.pipe.Dispatcher = e.dispatcher
	return e, nil
}
