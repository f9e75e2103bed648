// Command cdcmigrate generates, diffs, applies and reports the schema
// migrations of CDC sink targets.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cdc_migrator/internal/config"
	"cdc_migrator/internal/db"
	"cdc_migrator/internal/logging"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	if code == 0 && err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

type app struct {
	cfg     config.Config
	logger  *slog.Logger
	project *config.Project
}

func (a *app) resolver() *db.Resolver {
	return db.NewResolver(a.project, a.cfg.ConnectTimeout)
}

type globalFlags struct {
	projectRoot   string
	migrationsDir string
	env           string
	logLevel      string
	logFormat     string
	timeout       time.Duration
}

func main() {
	a := &app{}
	var flags globalFlags

	root := &cobra.Command{
		Use:           "cdcmigrate",
		Short:         "CDC schema migration lifecycle",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pf := cmd.Flags()
			if pf.Changed("project-root") {
				cfg.ProjectRoot = flags.projectRoot
			}
			if pf.Changed("migrations-dir") {
				cfg.MigrationsDir = flags.migrationsDir
			}
			if pf.Changed("env") {
				cfg.Env = flags.env
			}
			if pf.Changed("log-level") {
				cfg.LogLevel = flags.logLevel
			}
			if pf.Changed("log-format") {
				cfg.LogFormat = flags.logFormat
			}
			if pf.Changed("timeout") {
				cfg.ConnectTimeout = flags.timeout
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
			a.project = config.NewProject(cfg.ProjectRoot, config.NewFileCache()).WithSecretKey(cfg.SecretKey)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.projectRoot, "project-root", ".", "Project root holding services/ and sink-groups/ (or CDC_PROJECT_ROOT)")
	pf.StringVar(&flags.migrationsDir, "migrations-dir", "migrations", "Migrations directory, relative to the project root (or CDC_MIGRATIONS_DIR)")
	pf.StringVar(&flags.env, "env", "dev", "Target environment (or CDC_ENV)")
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&flags.logFormat, "log-format", "text", "Log format: text, json")
	pf.DurationVar(&flags.timeout, "timeout", 10*time.Second, "Database connect timeout (or CDC_CONNECT_TIMEOUT)")

	root.AddCommand(generateCmd(a))
	root.AddCommand(diffCmd(a))
	root.AddCommand(applyCmd(a))
	root.AddCommand(statusCmd(a))
	root.AddCommand(sealCmd(a))

	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintln(os.Stderr, "error:", ee.err)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
