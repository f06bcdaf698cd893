package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/log/global"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/njoerd114/todosync/internal/auth"
	"github.com/njoerd114/todosync/internal/config"
	"github.com/njoerd114/todosync/internal/entity"
	"github.com/njoerd114/todosync/internal/model"
	"github.com/njoerd114/todosync/internal/state"
	"github.com/njoerd114/todosync/internal/store"
	engine "github.com/njoerd114/todosync/internal/sync"
	"github.com/njoerd114/todosync/internal/telemetry"
	"github.com/njoerd114/todosync/internal/transport"
)

// ownerKey is the sync_meta key holding the generated owner uuid used when
// neither the config nor the token names one.
const ownerKey = "owner_uuid"

// App is one process's fully wired engine: configuration, logger, state
// database, record stores, adapters and coordinators.
type App struct {
	Config     *config.Config
	ConfigPath string
	DBPath     string
	Log        *slog.Logger
	Owner      uuid.UUID

	DB         *state.Store
	Todos      *store.Store[*model.Todo]
	Categories *store.Store[*model.Category]

	TodoAdapter     *entity.Adapter[*model.Todo]
	CategoryAdapter *entity.CategoryAdapter

	TodoSync     *engine.Coordinator
	CategorySync *engine.Coordinator
	Group        *engine.Group

	Tokens    auth.TokenSource
	TokenFile *auth.File // nil when the token comes from config or env

	saveMu  sync.Mutex
	closers []func(context.Context) error
}

// openApp builds an App from the root options. Callers must Close it.
func openApp(ctx context.Context, opts *RootOptions, stderr io.Writer) (*App, error) {
	a := &App{}
	var err error

	a.ConfigPath, a.Config, err = loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg := a.Config

	// --- Logger --------------------------------------------------------------

	var out io.Writer = stderr
	if cfg.Log.File != "" {
		rot := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
		out = rot
		a.closers = append(a.closers, func(context.Context) error { return rot.Close() })
	}
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	a.Log = slog.New(handler)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		shutdown, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
			Version:      opts.Version,
		})
		if err != nil {
			a.Log.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			a.Log = slog.New(telemetry.NewLogHandler(handler, global.GetLoggerProvider(), "todosync"))
			a.Log.Debug("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.closers = append(a.closers, func(context.Context) error {
				// The command context may be cancelled already.
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return shutdown(flushCtx)
			})
		}
	}

	// --- State DB ------------------------------------------------------------

	a.DBPath = cfg.DBPath
	if a.DBPath == "" {
		if a.DBPath, err = state.DefaultDBPath(); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("resolving state DB path: %w", err)
		}
	}
	if a.DB, err = state.Open(a.DBPath); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("opening state DB at %q: %w", a.DBPath, err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.DB.Close() })

	// --- Auth ----------------------------------------------------------------

	if err := a.setupTokens(); err != nil {
		a.close(ctx)
		return nil, err
	}
	if a.Owner, err = a.resolveOwner(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	// --- Records -------------------------------------------------------------

	if err := a.loadStores(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	// --- Sync ----------------------------------------------------------------

	client := transport.New(cfg.ServerURL, a.Tokens, transport.Options{
		Timeout:     cfg.RequestTimeout,
		MaxAttempts: cfg.MaxAttempts,
	}, a.Log.With("component", "transport"))

	a.CategoryAdapter = entity.NewCategoryAdapter(a.Categories, client, entity.Config{
		Endpoint:   cfg.Categories.Endpoint,
		BatchLimit: cfg.Categories.BatchSize,
		Owner:      a.Owner,
	}, a.Log)
	a.TodoAdapter = entity.NewTodoAdapter(a.Todos, client, entity.Config{
		Endpoint:   cfg.Todos.Endpoint,
		BatchLimit: cfg.Todos.BatchSize,
		Owner:      a.Owner,
	}, a.Log)

	syncOpts := engine.Options{
		BaseURL:    cfg.ServerURL,
		Policy:     cfg.Policy(),
		AutoSync:   cfg.AutoSync.Enabled,
		Interval:   cfg.AutoSync.Interval(),
		Checkpoint: a.Save,
	}
	a.CategorySync = engine.NewCoordinator(a.CategoryAdapter, a.Tokens, a.DB, syncOpts, a.Log)
	a.TodoSync = engine.NewCoordinator(a.TodoAdapter, a.Tokens, a.DB, syncOpts, a.Log)
	// Categories first so todos never reference a category the server lacks.
	a.Group = engine.NewGroup(a.CategorySync, a.TodoSync)

	return a, nil
}

// loadConfig reads the config at path. With no explicit path a missing
// default file is not an error: the built-in defaults are used.
func loadConfig(path string) (string, *config.Config, error) {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return "", nil, err
		}
	}
	if _, err := os.Stat(path); !explicit && errors.Is(err, fs.ErrNotExist) {
		cfg, err := config.Default()
		return "", cfg, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", nil, fmt.Errorf("loading config from %q: %w", path, err)
	}
	return path, cfg, nil
}

func (a *App) setupTokens() error {
	if a.Config.Token != "" {
		a.Tokens = auth.NewStatic(a.Config.Token)
		return nil
	}
	path := a.Config.TokenFile
	if path == "" {
		var err error
		if path, err = auth.DefaultTokenPath(); err != nil {
			return err
		}
	}
	a.TokenFile = auth.NewFile(path)
	a.Tokens = a.TokenFile
	return nil
}

// resolveOwner picks the owner uuid from, in order, the config, the token's
// claims and the state database. A fresh uuid is generated and stored when
// none of them has one, so local-only use works before the first login.
func (a *App) resolveOwner(ctx context.Context) (uuid.UUID, error) {
	if id := a.Config.Owner(); id != uuid.Nil {
		return id, nil
	}
	if tok, err := a.Tokens.Token(ctx); err == nil {
		if id, ok := auth.OwnerFromToken(tok); ok {
			return id, nil
		}
	}

	v, ok, err := a.DB.Value(ctx, ownerKey)
	if err != nil {
		return uuid.Nil, err
	}
	if ok {
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, fmt.Errorf("parsing stored owner uuid %q: %w", v, err)
		}
		return id, nil
	}
	id := uuid.New()
	if err := a.DB.SetValue(ctx, ownerKey, id.String()); err != nil {
		return uuid.Nil, err
	}
	a.Log.Debug("generated local owner", "owner_uuid", id)
	return id, nil
}

// loadStores fills the in-memory stores from the state database and makes
// sure the default category exists.
func (a *App) loadStores(ctx context.Context) error {
	a.Todos = store.New[*model.Todo]()
	a.Categories = entity.NewCategoryStore()

	todos, err := a.DB.LoadTodos(ctx)
	if err != nil {
		return err
	}
	for _, td := range todos {
		if _, err := a.Todos.Insert(td); err != nil {
			return fmt.Errorf("loading todo %s: %w", td.UUID, err)
		}
	}

	cats, err := a.DB.LoadCategories(ctx)
	if err != nil {
		return err
	}
	for _, c := range cats {
		if _, err := a.Categories.Insert(c); err != nil {
			return fmt.Errorf("loading category %q: %w", c.Name, err)
		}
	}

	if _, ok := a.findCategory(model.DefaultCategoryName); !ok {
		def := model.NewCategory(a.Owner, model.DefaultCategoryName)
		def.Dirty = model.Clean
		if _, err := a.Categories.Insert(def); err != nil {
			return fmt.Errorf("creating default category: %w", err)
		}
	}

	a.Log.Debug("records loaded", "todos", a.Todos.Len(), "categories", a.Categories.Len())
	return nil
}

func (a *App) findCategory(name string) (*model.Category, bool) {
	return a.Categories.Find(func(c *model.Category) bool {
		return c.OwnerUUID == a.Owner && c.Name == name
	})
}

// Save writes both record stores to the state database. It is the
// coordinators' checkpoint and is safe to call from several goroutines.
func (a *App) Save(ctx context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	if err := a.DB.SaveCategories(ctx, a.Categories.All()); err != nil {
		return err
	}
	return a.DB.SaveTodos(ctx, a.Todos.All())
}

// Close waits for running rounds, then releases the database, telemetry and
// log file in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	if a.Group != nil {
		a.Group.Cancel()
		a.Group.Wait()
	}
	return a.close(ctx)
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
