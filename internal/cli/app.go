package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/hearth/internal/config"
	"github.com/roach88/hearth/internal/engine"
	"github.com/roach88/hearth/internal/executor"
	"github.com/roach88/hearth/internal/remote"
	"github.com/roach88/hearth/internal/remote/memremote"
	"github.com/roach88/hearth/internal/remote/mongoremote"
	"github.com/roach88/hearth/internal/store"
)

// setupLogging installs the default slog logger writing to w.
func setupLogging(cfg config.LogConfig, w io.Writer) {
	level, err := cfg.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == config.FormatJSON {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	slog.SetDefault(slog.New(handler))
}

func openStore(cfg *config.Config) (*store.Store, func(), error) {
	slog.Debug("opening queue", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	return st, func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing queue", "error", closeErr)
		}
	}, nil
}

// remoteConn is an open remote store.
type remoteConn struct {
	store  remote.Store
	pinger remote.Pinger
	close  func()
}

func openRemote(ctx context.Context, cfg config.RemoteConfig) (*remoteConn, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		r := memremote.New()
		return &remoteConn{store: r, pinger: r, close: func() {}}, nil

	case config.DriverMongo:
		slog.Info("connecting to remote", "driver", cfg.Driver, "database", cfg.Database)
		r, err := mongoremote.Connect(ctx, cfg.URI, cfg.Database, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return &remoteConn{store: r, pinger: r, close: func() {
			if err := r.Close(context.Background()); err != nil {
				slog.Error("error closing remote", "error", err)
			}
		}}, nil

	default:
		return nil, fmt.Errorf("unknown remote driver %q", cfg.Driver)
	}
}

// newEngine builds the processor. exec may be nil for commands that only
// enqueue or inspect the queue and never flush.
func newEngine(st *store.Store, conn *remoteConn, cfg *config.Config) *engine.Engine {
	var exec engine.Executor
	if conn != nil {
		exec = executor.New(conn.store, executor.WithCallTimeout(cfg.Remote.Timeout))
	}
	return engine.New(st, exec)
}
