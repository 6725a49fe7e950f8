package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/isdelr/winepair-be/internal/config"
	"github.com/isdelr/winepair-be/internal/database"
	"github.com/isdelr/winepair-be/internal/logger"
	"github.com/isdelr/winepair-be/internal/services"
)

// Deps builds what the commands operate on. Tests replace it with in-memory versions.
type Deps struct {
	LoadConfig  func() (*config.Config, error)
	OpenBackups func(ctx context.Context, cfg *config.Config) (services.BackupServiceProvider, func(), error)
}

// DefaultDeps connects to the configured MongoDB deployment.
func DefaultDeps() Deps {
	return Deps{
		LoadConfig: func() (*config.Config, error) {
			cfg, err := config.Load()
			if err != nil {
				return nil, errors.Trace(err)
			}
			logger.Init(cfg.LogLevel, cfg.LogFormat)
			return cfg, nil
		},
		OpenBackups: openMongoBackups,
	}
}

func openMongoBackups(ctx context.Context, cfg *config.Config) (services.BackupServiceProvider, func(), error) {
	client, db, err := database.Connect(ctx, cfg.MongoURI, cfg.DatabaseName)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	closeFn := func() { _ = client.Disconnect(context.Background()) }

	eventService := services.NewEventService(db, nil, clock.WallClock)
	backupService := services.NewBackupService(database.NewMongoStore(db), eventService, clock.WallClock, services.BackupOptions{
		Dir:                cfg.Backup.Dir,
		Collections:        cfg.Backup.Collections,
		Retention:          cfg.Backup.Retention(),
		ClearBeforeRestore: cfg.Backup.ClearBeforeRestore,
	})
	return backupService, closeFn, nil
}

// NewRootCmd returns the root cobra command for the backupctl CLI.
func NewRootCmd(stdin io.Reader, stdout, stderr io.Writer, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "backupctl",
		Short:         "Export, restore and prune winepair MongoDB backups",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.AddCommand(newExportCmd(stdout, deps))
	cmd.AddCommand(newRestoreCmd(stdin, stdout, deps))
	cmd.AddCommand(newPruneCmd(stdout, deps))
	cmd.AddCommand(newListCmd(stdout, deps))
	cmd.AddCommand(newTokenCmd(stdout, deps))

	return cmd
}

// Execute runs the CLI with the process stdio.
func Execute() int {
	root := NewRootCmd(os.Stdin, os.Stdout, os.Stderr, DefaultDeps())
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// withBackups loads the configuration, opens the backup service and runs fn with it.
func withBackups(cmd *cobra.Command, deps Deps, fn func(ctx context.Context, svc services.BackupServiceProvider) error) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, closeFn, err := deps.OpenBackups(ctx, cfg)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeFn()
	return fn(ctx, svc)
}
