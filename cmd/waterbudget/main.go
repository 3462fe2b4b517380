package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/waterbudget/internal/api"
	"github.com/lox/waterbudget/internal/auth"
	"github.com/lox/waterbudget/internal/config"
	"github.com/lox/waterbudget/internal/dashboard"
	"github.com/lox/waterbudget/internal/ingest"
	"github.com/lox/waterbudget/internal/legacy"
	"github.com/lox/waterbudget/internal/observability"
	"github.com/lox/waterbudget/internal/planning"
	"github.com/lox/waterbudget/internal/store"
	"github.com/lox/waterbudget/internal/telemetry"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`

	config.Database
	config.Logging

	Serve           ServeCmd           `cmd:"" help:"Run the HTTP API."`
	Migrate         MigrateCmd         `cmd:"" help:"Apply database migrations."`
	Seed            SeedCmd            `cmd:"" help:"Load systems, facilities, channels, crops and curves from JSON."`
	ImportTelemetry ImportTelemetryCmd `cmd:"" name:"import-telemetry" help:"Import telemetry CSV files once."`
	LegacyImport    LegacyImportCmd    `cmd:"" name:"legacy-import" help:"Convert a legacy per-crop export into yearly records."`
	Demand          DemandCmd          `cmd:"" help:"Print the demand series of one yearly record."`
	Token           TokenCmd           `cmd:"" help:"Issue an API bearer token."`
}

// env is what every command receives from main.
type env struct {
	cli    *CLI
	logger *slog.Logger
}

// openStore opens and migrates the database, retrying while it is locked or
// not yet mounted.
func (e *env) openStore(ctx context.Context) (*store.Store, *sql.DB, error) {
	db, err := store.Open(e.cli.Path)
	if err != nil {
		return nil, nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(func() error { return db.PingContext(ctx) }, backoff.WithContext(bo, ctx)); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	st := store.New(db, e.logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, db, nil
}

type ServeCmd struct {
	config.Server
}

func (c *ServeCmd) Run(e *env) error {
	if err := c.Server.Check(); err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, db, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	gin.SetMode(gin.ReleaseMode)
	clock := clockwork.NewRealClock()
	aggregator := telemetry.NewAggregator(st, e.logger)
	server := api.NewServer(
		planning.NewService(st, aggregator, e.logger),
		dashboard.NewComposer(st, aggregator, clock, e.logger),
		api.Options{
			Addr:            c.Addr,
			JWTSecret:       c.JWTSecret,
			ShutdownTimeout: c.ShutdownTimeout,
			Clock:           clock,
		},
		e.logger,
	)
	return server.Run(ctx)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(e *env) error {
	st, db, err := e.openStore(context.Background())
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	e.logger.Info("database migrated", "path", e.cli.Path, "version", version)
	return nil
}

type SeedCmd struct {
	File string `arg:"" type:"existingfile" help:"Seed JSON file."`
}

func (c *SeedCmd) Run(e *env) error {
	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	seed, err := store.ParseSeed(f)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, db, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = st.ApplySeed(ctx, seed)
	return err
}

type ImportTelemetryCmd struct {
	config.FTP
	FromDir string `name:"from-dir" type:"existingdir" help:"Import CSV files from a local directory instead of FTP."`
}

func (c *ImportTelemetryCmd) Run(e *env) error {
	var src ingest.Source
	if c.FromDir != "" {
		src = ingest.DirSource{Dir: c.FromDir}
	} else {
		if err := c.FTP.Check(); err != nil {
			return err
		}
		src = ingest.NewFTPSource(c.FTP, e.logger)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, db, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	sum, err := ingest.NewImporter(st, e.logger).Run(ctx, src)
	if sum != nil {
		var stored, skipped int
		for _, f := range sum.Files {
			stored += f.Stored
			if f.Skipped {
				skipped++
			}
		}
		fmt.Printf("batch %s: %d files, %d skipped, %d failed, %d readings stored\n",
			sum.BatchID, len(sum.Files), skipped, sum.Failed, stored)
	}
	return err
}

type LegacyImportCmd struct {
	File   string `arg:"" type:"existingfile" help:"Legacy per-crop CSV export."`
	DryRun bool   `name:"dry-run" help:"Parse and reshape without writing."`
}

func (c *LegacyImportCmd) Run(e *env) error {
	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	entries, lineErrs, err := legacy.ParseCSV(f)
	if err != nil {
		return err
	}
	for _, le := range lineErrs {
		e.logger.Warn("legacy line skipped", "error", le)
	}
	groups := legacy.Reshape(entries)

	if c.DryRun {
		for _, g := range groups {
			fmt.Printf("system %d year %d: %d lines, %d rows, farm %.2f, conveyance %.2f, consumption %.2f\n",
				g.SystemID, g.Year, g.Entries, len(g.Rows), g.FarmEfficiency, g.ConveyanceEfficiency, g.TotalConsumption)
		}
		return nil
	}

	ctx := context.Background()
	st, db, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	rep, err := legacy.Apply(ctx, st, groups, e.logger)
	if err != nil {
		return err
	}
	fmt.Printf("%d groups: %d replaced, %d totals only, %d rows, %d merged, %d failed\n",
		rep.Groups, rep.Replaced, rep.Totals, rep.Rows, rep.Merged, len(rep.Failures))
	if len(rep.Failures) > 0 {
		return fmt.Errorf("%d legacy groups failed", len(rep.Failures))
	}
	return nil
}

type DemandCmd struct {
	System int64  `arg:"" help:"Irrigation system id."`
	Year   int    `arg:"" help:"Year."`
	Format string `name:"format" default:"json" enum:"json,csv" help:"json prints the series, csv prints the legacy grid."`
}

func (c *DemandCmd) Run(e *env) error {
	ctx := context.Background()
	st, db, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := planning.NewService(st, telemetry.NewAggregator(st, e.logger), e.logger)
	if c.Format == "csv" {
		grid, err := svc.Grid(ctx, auth.AllSystems, c.System, c.Year)
		if err != nil {
			return err
		}
		return grid.WriteCSV(os.Stdout)
	}

	d, err := svc.Demand(ctx, auth.AllSystems, c.System, c.Year)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

type TokenCmd struct {
	JWTSecret string        `name:"jwt-secret" env:"JWT_SECRET" required:"" help:"HMAC secret for bearer tokens."`
	Subject   string        `name:"subject" default:"operator" help:"Token subject."`
	Systems   []int64       `name:"systems" sep:"," help:"System ids the token may access."`
	All       bool          `name:"all" help:"Grant access to every system."`
	TTL       time.Duration `name:"ttl" default:"720h" help:"Token lifetime."`
}

func (c *TokenCmd) Run(e *env) error {
	if !c.All && len(c.Systems) == 0 {
		return errors.New("pass --systems or --all")
	}
	tok, err := auth.IssueToken([]byte(c.JWTSecret), c.Subject, c.Systems, c.All, c.TTL, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("waterbudget"),
		kong.Description("Irrigation water budget planning and telemetry."),
		kong.UsageOnError(),
	)

	logger := observability.NewLogger(cli.Level, cli.Format)
	slog.SetDefault(logger)

	kctx.FatalIfErrorf(kctx.Run(&env{cli: &cli, logger: logger}))
}
