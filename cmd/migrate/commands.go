package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/config"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/logger"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/schema"
	"github.com/lukgber-glitch/operate-sub002/migrations"
)

type rootOptions struct {
	dir      string
	logLevel string
	log      *zap.Logger
}

// source returns the directory given with --dir, or the schema compiled into the binary
func (o *rootOptions) source() fs.FS {
	if o.dir != "" {
		return os.DirFS(o.dir)
	}
	return migrations.FS
}

// withMigrator connects to the configured database and hands fn a Migrator
func (o *rootOptions) withMigrator(fn func(*schema.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	var m *schema.Migrator
	if o.dir != "" {
		m, err = schema.NewFromDir(db, o.dir, o.log)
	} else {
		m, err = schema.New(db, migrations.FS, o.log)
	}
	if err != nil {
		_ = db.Close()
		return err
	}
	return errors.Join(fn(m), m.Close())
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the migration service database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(&logger.Config{
				Level:      opts.logLevel,
				Format:     "console",
				Output:     "stdout",
				TimeFormat: "2006-01-02 15:04:05",
				Service:    "migrate",
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&opts.dir, "dir", "", "Migrations directory (default: schema embedded in the binary)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	cmd.AddCommand(
		newUpCmd(opts),
		newDownCmd(opts),
		newStepCmd(opts),
		newGotoCmd(opts),
		newVersionCmd(opts),
		newForceCmd(opts),
		newDropCmd(opts),
		newCreateCmd(opts),
		newListCmd(opts),
	)
	return cmd
}

func newUpCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMigrator((*schema.Migrator).Up)
		},
	}
}

func newDownCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMigrator((*schema.Migrator).Down)
		},
	}
}

func newStepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "step <n>",
		Short: "Apply n migrations, or roll back with a negative n",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step count %q", args[0])
			}
			return opts.withMigrator(func(m *schema.Migrator) error { return m.Steps(n) })
		},
	}
}

func newGotoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "goto <version>",
		Short: "Migrate up or down to a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return opts.withMigrator(func(m *schema.Migrator) error { return m.GoTo(uint(v)) })
		},
	}
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMigrator(func(m *schema.Migrator) error {
				st, err := m.Status()
				if err != nil {
					return err
				}
				if !st.Applied {
					fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", st.Version, st.Dirty)
				return nil
			})
		},
	}
}

func newForceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Record a version as applied and clear the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return opts.withMigrator(func(m *schema.Migrator) error { return m.Force(v) })
		},
	}
}

func newDropCmd(opts *rootOptions) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop every database object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("drop refused without --confirm")
			}
			return opts.withMigrator((*schema.Migrator).Drop)
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm dropping all data")
	return cmd
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty up/down migration pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.dir
			if dir == "" {
				dir = "migrations"
			}
			f, err := schema.Create(dir, args[0], description, time.Now())
			if err != nil {
				return err
			}
			opts.log.Info("Migration created",
				zap.String("version", f.Version),
				zap.String("up", f.UpPath),
				zap.String("down", f.DownPath),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description written into the file header")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := schema.List(opts.source())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}
