package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/checkpoint"
	"github.com/JakeFAU/crawlfrontier/internal/storage"
)

const snapshotContentType = "application/x-ndjson"

// newExportCmd creates the 'export' subcommand.
func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Writes the seen store and queued items as JSON lines",
		Long: `Writes a snapshot to stdout, a local file or a gs://bucket/object URI.
Run it while no crawl is using the same storage.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			provider := appInstance.Storage()

			switch {
			case out == "" || out == "-":
				return storage.Export(ctx, provider, cmd.OutOrStdout())
			case checkpoint.IsRemote(out):
				target, key, err := checkpoint.OpenObject(ctx, out)
				if err != nil {
					return err
				}
				defer target.Close() //nolint:errcheck // client shutdown
				var buf bytes.Buffer
				if err := storage.Export(ctx, provider, &buf); err != nil {
					return err
				}
				if _, err := target.Store.PutObject(ctx, key, snapshotContentType, &buf); err != nil {
					return fmt.Errorf("upload export: %w", err)
				}
			default:
				f, err := os.Create(out) //nolint:gosec // operator-supplied path
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				if err := storage.Export(ctx, provider, f); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("close export file: %w", err)
				}
			}
			appInstance.Logger().Info("frontier exported", zap.String("path", out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file or gs:// URI (default stdout)")
	return cmd
}

// newImportCmd creates the 'import' subcommand.
func newImportCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Loads a snapshot written by export into the configured storage",
		Long: `Restores seen records with their original document IDs and appends the
queued items. Run it while no crawl is using the same storage.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var r io.Reader = cmd.InOrStdin()
			switch {
			case in == "" || in == "-":
			case checkpoint.IsRemote(in):
				target, key, err := checkpoint.OpenObject(ctx, in)
				if err != nil {
					return err
				}
				defer target.Close() //nolint:errcheck // client shutdown
				rc, err := target.Store.GetObject(ctx, key)
				if err != nil {
					return fmt.Errorf("open import object: %w", err)
				}
				defer rc.Close() //nolint:errcheck // read-only object
				r = rc
			default:
				f, err := os.Open(in) //nolint:gosec // operator-supplied path
				if err != nil {
					return fmt.Errorf("open import file: %w", err)
				}
				defer f.Close() //nolint:errcheck // read-only file
				r = f
			}
			seen, items, err := storage.Import(ctx, appInstance.Storage(), r)
			if err != nil {
				return err
			}
			appInstance.Logger().Info("frontier imported", zap.Int("seen", seen), zap.Int("items", items))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d seen records and %d queued items\n", seen, items)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "input file or gs:// URI (default stdin)")
	return cmd
}

// newCheckpointCmd creates the 'checkpoint' subcommand.
func newCheckpointCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Saves a timestamped snapshot to the checkpoint target and updates LATEST",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cp, closeTarget, err := openCheckpointer(cmd, appInstance, target)
			if err != nil {
				return err
			}
			defer closeTarget() //nolint:errcheck // client shutdown
			uri, err := cp.Save(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "directory or gs://bucket/prefix (default storage.checkpoint.target)")
	return cmd
}

// newRestoreCmd creates the 'restore' subcommand.
func newRestoreCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Imports the newest checkpoint into the configured storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cp, closeTarget, err := openCheckpointer(cmd, appInstance, target)
			if err != nil {
				return err
			}
			defer closeTarget() //nolint:errcheck // client shutdown
			name, seen, items, err := cp.Restore(cmd.Context())
			if err != nil {
				return err
			}
			appInstance.Logger().Info("checkpoint restored",
				zap.String("checkpoint", name),
				zap.Int("seen", seen),
				zap.Int("items", items),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s: %d seen records and %d queued items\n", name, seen, items)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "directory or gs://bucket/prefix (default storage.checkpoint.target)")
	return cmd
}

func openCheckpointer(cmd *cobra.Command, appInstance App, target string) (*checkpoint.Checkpointer, func() error, error) {
	if target == "" {
		target = appInstance.Config().Storage.Checkpoint.Target
	}
	if target == "" {
		return nil, nil, fmt.Errorf("no checkpoint target: pass --target or set storage.checkpoint.target")
	}
	opened, err := checkpoint.Open(cmd.Context(), target)
	if err != nil {
		return nil, nil, err
	}
	cp := checkpoint.New(appInstance.Storage(), opened.Store, checkpoint.Config{Prefix: opened.Prefix}, nil,
		appInstance.Logger().Named("checkpoint"))
	return cp, opened.Close, nil
}
