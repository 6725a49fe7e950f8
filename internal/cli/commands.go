package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/isdelr/winepair-be/internal/auth"
	"github.com/isdelr/winepair-be/internal/services"
)

func newExportCmd(stdout io.Writer, deps Deps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every configured collection to a new backup file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			return withBackups(cmd, deps, func(ctx context.Context, svc services.BackupServiceProvider) error {
				report, err := svc.RunOnce(ctx)
				if err != nil {
					return errors.Trace(err)
				}
				if output == "json" {
					err = writeJSON(stdout, report)
				} else {
					err = renderRunReport(stdout, report)
				}
				if err != nil {
					return err
				}
				if failed := report.Failed(); len(failed) > 0 {
					return errors.Errorf("%d collection(s) could not be exported", len(failed))
				}
				return nil
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func newRestoreCmd(stdin io.Reader, stdout io.Writer, deps Deps) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <collection> <file>",
		Short: "Replace a collection with the documents of a backup file",
		Long: "Restore a collection from a backup. <file> is either a file name inside the\n" +
			"collection's backup directory or a path to a backup file.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, file := args[0], args[1]
			ok, err := confirm(yes, stdin, stdout, fmt.Sprintf("Restore collection %q from %s? Existing documents may be deleted.", collection, file))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(stdout, "Aborted.")
				return nil
			}
			return withBackups(cmd, deps, func(ctx context.Context, svc services.BackupServiceProvider) error {
				result, err := svc.Restore(ctx, collection, file)
				if err != nil {
					return errors.Trace(err)
				}
				fmt.Fprintf(stdout, "Restored %d document(s) into %q from %s (%d deleted).\n", result.Inserted, result.Collection, result.FileName, result.Deleted)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Assume 'yes' to the confirmation prompt")
	return cmd
}

func newPruneCmd(stdout io.Writer, deps Deps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete backups that fall outside the retention policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			return withBackups(cmd, deps, func(ctx context.Context, svc services.BackupServiceProvider) error {
				report, err := svc.Prune(ctx)
				if err != nil {
					return errors.Trace(err)
				}
				if output == "json" {
					return writeJSON(stdout, report)
				}
				if len(report.Removed) == 0 {
					fmt.Fprintln(stdout, "Nothing to prune.")
					return nil
				}
				return renderRecords(stdout, report.Removed)
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func newListCmd(stdout io.Writer, deps Deps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list [collection]",
		Short: "List backups, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			collection := ""
			if len(args) == 1 {
				collection = args[0]
			}
			return withBackups(cmd, deps, func(ctx context.Context, svc services.BackupServiceProvider) error {
				records, err := svc.ListBackups(collection)
				if err != nil {
					return errors.Trace(err)
				}
				if output == "json" {
					return writeJSON(stdout, records)
				}
				return renderRecords(stdout, records)
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func newTokenCmd(stdout io.Writer, deps Deps) *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin token for the backup API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return errors.Trace(err)
			}
			manager, err := auth.NewManager(cfg.JWTSecret)
			if err != nil {
				return errors.Annotate(err, "JWT_SECRET must be set")
			}
			token, err := manager.GenerateJWT(subject, ttl)
			if err != nil {
				return errors.Trace(err)
			}
			fmt.Fprintln(stdout, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "backupctl", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

// confirm asks a yes/no question unless assumeYes is set.
func confirm(assumeYes bool, in io.Reader, out io.Writer, question string) (bool, error) {
	if assumeYes {
		return true, nil
	}
	fmt.Fprintf(out, "%s [y/N]: ", strings.TrimSpace(question))
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.TrimSpace(strings.ToLower(line))
	return answer == "y" || answer == "yes", nil
}
