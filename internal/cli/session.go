package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/sopsync/internal/assistant"
	"github.com/roach88/sopsync/internal/config"
	"github.com/roach88/sopsync/internal/engine"
	"github.com/roach88/sopsync/internal/formstate"
	"github.com/roach88/sopsync/internal/prefill"
	"github.com/roach88/sopsync/internal/redisstore"
	"github.com/roach88/sopsync/internal/schema"
	"github.com/roach88/sopsync/internal/store"
)

// backend is a persistence target that also keeps change history.
type backend interface {
	formstate.Persister
	formstate.ChangeRecorder
	ReadChanges(ctx context.Context, key string) ([]formstate.Change, error)
	Close() error
}

// seqResumer is implemented by backends that can report the last recorded
// change seq, so a new process continues the logical clock.
type seqResumer interface {
	LastSeq(ctx context.Context) (int64, error)
}

var (
	_ backend    = (*store.Store)(nil)
	_ backend    = (*redisstore.RedisStore)(nil)
	_ seqResumer = (*store.Store)(nil)
	_ seqResumer = (*redisstore.RedisStore)(nil)
)

// openBackend opens the configured persistence backend. The memory backend
// is an in-memory SQLite database that lives as long as the process.
func openBackend(cfg config.Persistence) (backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		st, err := store.Open(":memory:")
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendSQLite:
		st, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendRedis:
		opts := []redisstore.Option{redisstore.WithPrefix(cfg.RedisPrefix)}
		if cfg.RedisTTL > 0 {
			opts = append(opts, redisstore.WithTTL(cfg.RedisTTL))
		}
		rs, err := redisstore.NewRedisStore(cfg.RedisURL, opts...)
		if err != nil {
			return nil, err
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// loadRegistry loads every template under dir.
func loadRegistry(dir string) (*schema.Registry, error) {
	registry, errs := schema.LoadRegistry(dir)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return registry, nil
}

// session owns one engine and its backend for the lifetime of a command.
type session struct {
	cfg      config.Config
	registry *schema.Registry
	backend  backend
	engine   *engine.Engine
	group    *errgroup.Group
}

// openSession loads templates, opens the backend and starts the engine loop.
// transport and observer may be nil. Callers must Close the session.
func openSession(ctx context.Context, cfg config.Config, transport assistant.Transport, observer engine.Observer) (*session, error) {
	registry, err := loadRegistry(cfg.Templates.Dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load templates", err)
	}

	b, err := openBackend(cfg.Persistence)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to open %s backend", ErrCodeBackend, cfg.Persistence.Backend), err)
	}

	clock := formstate.NewClock()
	if r, ok := b.(seqResumer); ok {
		last, err := r.LastSeq(ctx)
		if err != nil {
			b.Close()
			return nil, WrapExitError(ExitCommandError, "failed to read change history", err)
		}
		clock = formstate.NewClockAt(last)
	}

	opts := []engine.EngineOption{
		engine.WithPersister(b),
		engine.WithRecorder(b),
		engine.WithClock(clock),
		engine.WithNamespace(cfg.Namespace),
		engine.WithMarkers(cfg.Assistant.OpenMarker, cfg.Assistant.CloseMarker),
		engine.WithProfile(prefill.ProfileFromStrings(cfg.Profile)),
		engine.WithStoreOptions(formstate.WithDebounce(cfg.Store.Debounce)),
	}
	if observer != nil {
		opts = append(opts, engine.WithObserver(observer))
	}
	eng := engine.New(registry, transport, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := eng.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	slog.Debug("session started",
		"backend", cfg.Persistence.Backend,
		"namespace", cfg.Namespace,
		"templates", registry.Len())

	return &session{
		cfg:      cfg,
		registry: registry,
		backend:  b,
		engine:   eng,
		group:    g,
	}, nil
}

// key returns the persistence key for a template in this session's namespace.
func (s *session) key(templateID int) string {
	return engine.StoreKey(s.cfg.Namespace, templateID)
}

// Close stops the engine, which flushes pending writes, then closes the
// backend.
func (s *session) Close() error {
	s.engine.Stop()
	runErr := s.group.Wait()
	closeErr := s.backend.Close()
	if runErr != nil {
		slog.Error("engine stopped with error", "error", runErr)
	}
	return errors.Join(runErr, closeErr)
}

// openTemplate opens templateID, mapping engine errors to CLI exit errors.
func (s *session) openTemplate(ctx context.Context, f *OutputFormatter, templateID int, link string) error {
	if err := s.engine.OpenTemplate(ctx, templateID, link); err != nil {
		if errors.Is(err, engine.ErrUnknownTemplate) {
			return f.Fail(ExitCommandError, ErrCodeUnknownTemplate, fmt.Sprintf("unknown template %d", templateID), nil)
		}
		return WrapExitError(ExitCommandError, "failed to open template", err)
	}
	return nil
}
