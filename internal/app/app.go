// Package app wires the relay together: config, logging, directory store,
// telegram adapter, dispatch pipeline, health reporter, HTTP server and
// maintenance jobs.
package app

import (
	"context"
	"time"

	"relaygate/internal/config"
	"relaygate/internal/directory"
	"relaygate/internal/dispatch"
	"relaygate/internal/health"
	"relaygate/internal/httpapi"
	"relaygate/internal/maintenance"
	rtsup "relaygate/internal/runtime/supervisor"
	"relaygate/internal/transport/telegram"
	"relaygate/pkg/logx"
)

type App struct {
	cfg *config.Config
	log logx.Logger
	sup *rtsup.Supervisor

	store    directory.Admin
	adapter  *telegram.Adapter
	pipeline *dispatch.Pipeline
	beat     *health.Beat
	server   *httpapi.Server
	maint    *maintenance.Service
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}
	appLog := log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationOrDefault("directory.busy_timeout", cfg.Directory.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := directory.Open(directory.Config{
		Path:        cfg.Directory.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "directory")))
	if err != nil {
		return nil, err
	}
	appLog.Info("directory store opened", logx.String("path", cfg.Directory.Path))

	beat := health.NewBeat()

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    pollTimeout,
		SendTimeout:    sendTimeout,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, beat, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	pipeline := dispatch.New(store, adapter, log.With(logx.String("comp", "dispatch")), dispatch.Options{
		MaxMessageLength: cfg.Relay.MaxMessageLength,
	})

	reporter := health.NewReporter(beat, store)

	readTimeout, _ := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 0)
	writeTimeout, _ := config.ParseDurationOrDefault("server.write_timeout", cfg.Server.WriteTimeout, 0)
	idleTimeout, _ := config.ParseDurationOrDefault("server.idle_timeout", cfg.Server.IdleTimeout, 0)
	server := httpapi.New(httpapi.Config{
		Addr:         cfg.Addr(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}, pipeline, reporter, log.With(logx.String("comp", "http")))

	maint := maintenance.New(maintenance.Config{
		Enabled:       cfg.Maintenance.Enabled,
		ProbeSchedule: cfg.Maintenance.ProbeSchedule,
	}, store, pipeline, log.With(logx.String("comp", "maintenance")))

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		adapter:  adapter,
		pipeline: pipeline,
		beat:     beat,
		server:   server,
		maint:    maint,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.server.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.maint.Enabled() {
		if err := a.maint.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	a.log.Info("relay started", logx.String("addr", a.server.Addr()))
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context) error {
	stopCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	a.maint.Stop(stopCtx)
	_ = a.server.Stop(stopCtx)
	_ = a.adapter.Stop(stopCtx)
	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(stopCtx)
	}
	err := a.store.Close()

	a.log.Info("relay stopped")
	_ = a.log.Close()
	return err
}
