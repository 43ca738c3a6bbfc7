// Package app wires the process together: config, logging, store, sender,
// engine, and the admin API.
package app

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"

	"blastbot/internal/api"
	"blastbot/internal/config"
	"blastbot/internal/engine"
	"blastbot/internal/logx"
	"blastbot/internal/sender/telegram"
	"blastbot/internal/store"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	st     store.Store
	eng    *engine.Engine
	apiSrv *api.Server
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logSvc, log := logx.New(logxConfig(cfg.Logging))
	return &App{cfgMgr: mgr, logSvc: logSvc, log: log}, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	busyTO, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTO,
	}, a.log.With(logx.String("component", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.st = st

	sendTO, err := config.ParseDuration("telegram.send_timeout", cfg.Telegram.SendTimeout, 0)
	if err != nil {
		return err
	}
	snd, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		HTTPTimeout: sendTO,
	}, a.log.With(logx.String("component", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram sender: %w", err)
	}

	engCfg, err := engineConfig(cfg.Engine)
	if err != nil {
		return err
	}
	a.eng = engine.New(engCfg, st, snd, a.log.With(logx.String("component", "engine")))
	if err := a.eng.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	if cfg.API.Enabled {
		readTO, err := config.ParseDuration("api.read_timeout", cfg.API.ReadTimeout, 0)
		if err != nil {
			return err
		}
		writeTO, err := config.ParseDuration("api.write_timeout", cfg.API.WriteTimeout, 0)
		if err != nil {
			return err
		}
		h := api.NewHandler(a.eng, a.log.With(logx.String("component", "api")))
		a.apiSrv = api.NewServer(api.ServerConfig{
			Addr:         cfg.API.Addr,
			ReadTimeout:  readTO,
			WriteTimeout: writeTO,
		}, h, a.log.With(logx.String("component", "api")))
		a.apiSrv.Start()
	}

	// Config hot reload: only the logging section applies live; other
	// sections need a restart and are just reported.
	sub := a.cfgMgr.Subscribe(1)
	go func() {
		if err := a.cfgMgr.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-sub:
				if next == nil {
					continue
				}
				a.logSvc.Apply(logxConfig(next.Logging))
				a.log.Info("config reloaded; non-logging changes apply on restart")
			}
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("blastbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.apiSrv != nil {
		if err := a.apiSrv.Stop(ctx); err != nil {
			a.log.Warn("admin api stop failed", logx.Err(err))
		}
	}
	if a.eng != nil {
		if err := a.eng.Stop(ctx); err != nil {
			a.log.Warn("engine stop incomplete", logx.Err(err))
		}
	}
	if a.st != nil {
		if err := a.st.Close(); err != nil {
			a.log.Warn("store close failed", logx.Err(err))
		}
	}
	a.log.Info("blastbot stopped")
	return a.logSvc.Close()
}

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func engineConfig(c config.EngineConfig) (engine.Config, error) {
	delayBase, err := config.ParseDuration("engine.send_delay_base", c.SendDelayBase, 0)
	if err != nil {
		return engine.Config{}, err
	}
	senderTO, err := config.ParseDuration("engine.sender_timeout", c.SenderTimeout, 0)
	if err != nil {
		return engine.Config{}, err
	}
	delDelay, err := config.ParseDuration("engine.delete_retry_delay", c.DeleteRetryDelay, 0)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		MaxTargets:       c.MaxTargets,
		MaxTextLen:       c.MaxTextLen,
		SendDelayBase:    delayBase,
		SenderTimeout:    senderTO,
		LogBatchSize:     c.LogBatchSize,
		RatePerSec:       c.RatePerSec,
		DeleteRetries:    c.DeleteRetries,
		DeleteRetryDelay: delDelay,
		Timezone:         c.Timezone,
	}, nil
}
