package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Tsinling0525/weir/config"
	"github.com/Tsinling0525/weir/engine"
	"github.com/Tsinling0525/weir/expr"
	"github.com/Tsinling0525/weir/infra"
	"github.com/Tsinling0525/weir/infra/natsbus"
	_ "github.com/Tsinling0525/weir/nodes/echo"
	_ "github.com/Tsinling0525/weir/nodes/http"
	_ "github.com/Tsinling0525/weir/nodes/transform"
	_ "github.com/Tsinling0525/weir/nodes/webhook"
	"github.com/Tsinling0525/weir/plugin"
)

// App wires the engine, its stores and the optional NATS intake.
type App struct {
	Engine  *engine.Engine
	History *infra.History
	cfg     config.Config
	logger  *slog.Logger
	nats    *natsbus.Client
	intake  *natsbus.Consumer
}

// Build assembles an App from cfg. NATS is connected when cfg.NATSURL is set.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	instances, defs, err := stores(cfg)
	if err != nil {
		return nil, err
	}
	history := infra.NewHistory(cfg.HistoryMaxLines)
	buses := infra.MultiBus{history, infra.LogBus{Logger: logger}}

	var nc *natsbus.Client
	if cfg.NATSURL != "" {
		nc, err = natsbus.Connect(cfg.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		buses = append(buses, natsbus.NewBus(nc.Conn(), cfg.NATSPrefix))
	}

	ev := expr.New(
		expr.WithCacheSize(cfg.ExprCacheSize),
		expr.WithScriptTimeout(cfg.ScriptTimeout),
		expr.WithLogger(logger),
	)
	eng, err := engine.New(plugin.Default(), instances, defs,
		engine.WithBus(buses),
		engine.WithLogger(logger),
		engine.WithExpressions(ev),
	)
	if err != nil {
		if nc != nil {
			_ = nc.Close()
		}
		return nil, err
	}
	app := &App{Engine: eng, History: history, cfg: cfg, logger: logger, nats: nc}
	if nc != nil {
		if err := app.subscribe(ctx); err != nil {
			_ = app.Close(ctx)
			return nil, err
		}
	}
	return app, nil
}

func stores(cfg config.Config) (engine.InstanceStore, engine.DefinitionStore, error) {
	if cfg.Store != config.StoreFile {
		return infra.NewMemStore(), infra.NewDefinitionStore(), nil
	}
	instances, err := infra.NewFileStore(infra.InstancesDir(cfg.DataDir))
	if err != nil {
		return nil, nil, fmt.Errorf("open instance store: %w", err)
	}
	defs, err := infra.NewFileDefinitionStore(infra.WorkflowsDir(cfg.DataDir))
	if err != nil {
		return nil, nil, fmt.Errorf("open definition store: %w", err)
	}
	return instances, defs, nil
}

func (a *App) subscribe(ctx context.Context) error {
	a.intake = natsbus.NewConsumer(a.Engine, a.cfg.NATSPrefix, a.logger)
	if !a.cfg.NATSDurable {
		return a.intake.Subscribe(a.nats.Conn())
	}
	stream, err := a.nats.EnsureStream(ctx, "WEIR_INTAKE", a.cfg.NATSPrefix)
	if err != nil {
		return err
	}
	return a.intake.Consume(ctx, stream, a.cfg.NATSPrefix+"-engine")
}

// Serve runs the HTTP API on cfg's port until ctx is done, then shuts the
// server and the engine down.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: a.cfg.Addr(), Handler: NewRouter(a.Engine, a.History, a.logger)}
	errc := make(chan error, 1)
	go func() {
		a.logger.Info("api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}
	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.logger.Warn("api shutdown", "err", err)
	}
	return errors.Join(serveErr, a.Close(sctx))
}

// Close stops the NATS intake, then the engine.
func (a *App) Close(ctx context.Context) error {
	if a.intake != nil {
		a.intake.Stop()
	}
	var errs []error
	if err := a.Engine.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
