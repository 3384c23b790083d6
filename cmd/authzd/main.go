// Command authzd serves the authorization API.
//
// Usage:
//
//	authzd [serve]
//	authzd migrate
//	authzd bootstrap -org acme -name "Acme Inc" [-admin <uuid>]
//	authzd tenant-status -org acme -status suspended [-actor <uuid>]
//
// Configuration is read from the environment and an optional .env file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/authzkit/pkg/clientip"
	"github.com/dmitrymomot/authzkit/pkg/config"
	"github.com/dmitrymomot/authzkit/pkg/credential"
	"github.com/dmitrymomot/authzkit/pkg/httpserver"
	"github.com/dmitrymomot/authzkit/pkg/logger"
	"github.com/dmitrymomot/authzkit/pkg/pg"
	"github.com/dmitrymomot/authzkit/pkg/requestid"
	"github.com/dmitrymomot/authzkit/pkg/store/postgres"
	"github.com/dmitrymomot/authzkit/pkg/tenant"
)

const serviceName = "authzd"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	logger.SetAsDefault(log)

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		return serve(ctx, cfg, log)
	case "migrate":
		return migrate(ctx, cfg, log)
	case "bootstrap":
		return bootstrapCmd(ctx, cfg, log, args)
	case "tenant-status":
		return tenantStatusCmd(ctx, cfg, log, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newLogger(cfg Config) (*slog.Logger, error) {
	opts := []logger.Option{
		logger.WithEnvironment(cfg.Env, serviceName),
		logger.WithContextExtractors(
			requestid.LoggerExtractor(),
			clientip.LoggerExtractor(),
			tenant.LoggerExtractor(),
			credential.LoggerExtractor(),
		),
	}
	if cfg.LogLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		opts = append(opts, logger.WithLevel(level))
	}
	if cfg.LogFormat != "" {
		switch f := logger.Format(cfg.LogFormat); f {
		case logger.FormatJSON, logger.FormatText:
			opts = append(opts, logger.WithFormat(f))
		default:
			return nil, fmt.Errorf("log format %q: must be json or text", cfg.LogFormat)
		}
	}
	return logger.New(opts...), nil
}

func serve(ctx context.Context, cfg Config, log *slog.Logger) error {
	db, client, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if client != nil {
		defer client.Close()
	}

	st := postgresStorage(db)
	a, err := newApp(cfg, st, client, log)
	if err != nil {
		return err
	}
	a.checks = append(a.checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(db)})

	sweeper, err := a.newSweeper(ctx, cfg.Authz.SweepSchedule)
	if err != nil {
		return fmt.Errorf("sweep schedule: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log)).Run(ctx, a.routes())
	})
	if a.subscriber != nil {
		g.Go(func() error {
			return a.subscriber.Listen(ctx, a.svc.HandleChange)
		})
	}
	if a.changes != nil {
		g.Go(func() error { return a.watchChanges(ctx) })
	}
	g.Go(func() error {
		sweeper.Start()
		<-ctx.Done()
		<-sweeper.Stop().Done()
		return nil
	})

	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if cerr := a.Close(closeCtx); cerr != nil {
		log.ErrorContext(closeCtx, "shutdown incomplete", logger.Error(cerr))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func migrate(ctx context.Context, cfg Config, log *slog.Logger) error {
	db, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer db.Close()
	return pg.Migrate(ctx, db, postgres.Migrations, postgres.MigrationsDir, cfg.PG, log)
}

func bootstrapCmd(ctx context.Context, cfg Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	orgID := fs.String("org", "", "tenant org id")
	name := fs.String("name", "", "tenant display name")
	admin := fs.String("admin", "", "admin principal id, generated when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *orgID == "" {
		return errors.New("bootstrap: -org is required")
	}
	adminID := uuid.Nil
	if *admin != "" {
		id, err := uuid.Parse(*admin)
		if err != nil {
			return fmt.Errorf("bootstrap: -admin: %w", err)
		}
		adminID = id
	}

	db, client, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if client != nil {
		defer client.Close()
	}

	a, err := newApp(cfg, postgresStorage(db), client, log)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	res, err := a.bootstrap(ctx, *orgID, *name, adminID)
	if err != nil {
		return err
	}
	fmt.Printf("tenant %s (%s) is active\nadmin api key: %s\n", res.Tenant.OrgID, res.Tenant.ID, res.Key)
	return nil
}

func tenantStatusCmd(ctx context.Context, cfg Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("tenant-status", flag.ContinueOnError)
	orgID := fs.String("org", "", "tenant org id or uuid")
	status := fs.String("status", "", "active or suspended")
	actor := fs.String("actor", "", "principal recorded in the audit trail")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *orgID == "" {
		return errors.New("tenant-status: -org is required")
	}
	to := tenant.Status(*status)
	if !to.Valid() {
		return fmt.Errorf("tenant-status: -status %q is not a tenant status", *status)
	}
	actorID := uuid.Nil
	if *actor != "" {
		id, err := uuid.Parse(*actor)
		if err != nil {
			return fmt.Errorf("tenant-status: -actor: %w", err)
		}
		actorID = id
	}

	db, client, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if client != nil {
		defer client.Close()
	}

	a, err := newApp(cfg, postgresStorage(db), client, log)
	if err != nil {
		return err
	}
	// Close flushes the change event to the other instances.
	defer a.Close(context.WithoutCancel(ctx))

	t, err := a.directory.Get(ctx, *orgID)
	if err != nil {
		return err
	}
	if t, err = a.svc.SetTenantStatus(ctx, actorID, t.ID, to); err != nil {
		return err
	}
	fmt.Printf("tenant %s (%s) is %s\n", t.OrgID, t.ID, t.Status)
	return nil
}
