package cli

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/devsupport/bus"
	"github.com/vinayprograms/devsupport/config"
	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/logging"
	"github.com/vinayprograms/devsupport/policy"
	"github.com/vinayprograms/devsupport/shutdown"
	"github.com/vinayprograms/devsupport/state"
	"github.com/vinayprograms/devsupport/tasks"
	"github.com/vinayprograms/devsupport/tools"
	"github.com/vinayprograms/devsupport/worklog"
)

// App holds the components built from a Config.
type App struct {
	Config   *config.Config
	Logger   *logging.Logger
	Tasks    *tasks.Service
	WorkLog  *worklog.Log
	Policy   *policy.Policy
	Registry *tools.Registry

	// Bus and Events are nil unless events are enabled.
	Bus    *bus.NATSBus
	Events *bus.Emitter

	conn *nats.Conn
	kv   *state.NATSStore
}

// NewApp opens the stores named by cfg and registers every tool.
func NewApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (app *App, err error) {
	app = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.Policy = policy.New()
	if cfg.Server.PolicyFile != "" {
		if app.Policy, err = policy.LoadFile(cfg.Server.PolicyFile); err != nil {
			return app, fmt.Errorf("load policy: %w", err)
		}
	}

	if cfg.Lock.Enabled() {
		if err := app.connectNATS(ctx); err != nil {
			return app, err
		}
	}
	if cfg.Events.Enabled && app.conn != nil {
		app.Bus = bus.NewNATSBus(app.conn, bus.DefaultConfig())
		app.Events = bus.NewEmitter(app.Bus, cfg.Events.Prefix, logger)
	}

	store, err := app.openRecordStore()
	if err != nil {
		return app, err
	}

	opts := []tasks.Option{tasks.WithLogger(logger), tasks.WithEvents(app.Events)}
	if app.kv != nil {
		opts = append(opts,
			tasks.WithLocker(app.kv, cfg.Lock.Key, cfg.Lock.TTL.Std()),
			tasks.WithLockTimeout(cfg.Lock.Timeout.Std()),
		)
	}
	app.Tasks = tasks.NewService(store, opts...)

	app.WorkLog, err = worklog.Open(worklog.Config{
		Path:      cfg.Storage.WorkLogFile,
		IndexPath: cfg.Storage.WorkLogIndex,
		Logger:    logger,
		Events:    app.Events,
	})
	if err != nil {
		return app, err
	}

	app.Registry = tools.NewRegistry(app.Policy)
	tools.RegisterTaskTools(app.Registry, app.Tasks)
	tools.RegisterWorkLogTools(app.Registry, app.WorkLog)
	tools.RegisterAnalyzeTool(app.Registry)

	return app, nil
}

func (a *App) connectNATS(ctx context.Context) error {
	conn, err := state.ConnectNATS(state.NATSConnConfig{
		URL:  a.Config.Lock.NATSURL,
		Name: a.Config.Server.Name,
	})
	if err != nil {
		return err
	}
	a.conn = conn

	a.kv, err = state.NewNATSStore(ctx, state.NATSStoreConfig{
		Conn:   conn,
		Bucket: a.Config.Lock.Bucket,
	})
	if err != nil {
		return err
	}
	a.Logger.Info("nats_connected", map[string]interface{}{
		"url":    a.Config.Lock.NATSURL,
		"bucket": a.Config.Lock.Bucket,
	})
	return nil
}

func (a *App) openRecordStore() (tasks.RecordStore, error) {
	switch a.Config.Storage.Backend {
	case config.BackendSQLite:
		return tasks.OpenSQLiteStore(a.Config.Storage.SQLitePath)
	case config.BackendNATS:
		return tasks.NewKVStore(a.kv, tasks.DefaultKVKey), nil
	default:
		store := tasks.NewFileStore(a.Config.Storage.TasksFile)
		if d := a.Config.Lock.Timeout.Std(); d > 0 {
			store.SetLockTimeout(d)
		}
		return store, nil
	}
}

// RegisterShutdown closes the stores in the last shutdown phase. The NATS
// connection is closed after the task service that uses it.
func (a *App) RegisterShutdown(coord *shutdown.Coordinator) {
	coord.Register("tasks", shutdown.PhaseStores, shutdown.CloserFunc(func() error {
		return errors.Join(a.closeTasks(), a.closeNATS())
	}))
	coord.Register("worklog", shutdown.PhaseStores, shutdown.CloserFunc(a.closeWorkLog))
}

// Close releases every component. It is safe to call on a partly built App.
func (a *App) Close() error {
	return errors.Join(a.closeTasks(), a.closeWorkLog(), a.closeNATS())
}

func (a *App) closeTasks() error {
	if a.Tasks == nil {
		return nil
	}
	err := a.Tasks.Close()
	a.Tasks = nil
	return err
}

func (a *App) closeWorkLog() error {
	if a.WorkLog == nil {
		return nil
	}
	err := a.WorkLog.Close()
	a.WorkLog = nil
	return err
}

func (a *App) closeNATS() error {
	var err error
	if a.Bus != nil {
		if a.conn != nil {
			a.Bus.Flush()
		}
		err = a.Bus.Close()
		a.Bus = nil
	}
	if a.kv != nil {
		err = errors.Join(err, a.kv.Close())
		a.kv = nil
	}
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	return err
}
