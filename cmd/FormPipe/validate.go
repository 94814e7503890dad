package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/FormPipe/internal/catalog"
)

func newValidateCmd(config *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [catalog]",
		Short: "Check the question catalog for errors",
		Long: `Loads the catalog exactly as the run command would and reports the first schema error.
On success it also names the most recent backup of the catalog, the copy to restore when a later edit breaks it.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.CatalogPath
			if len(args) > 0 {
				path = args[0]
			}
			cat, err := catalog.Load(path)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Catalog is valid: %d questions, %d link rules\n", cat.Len(), len(cat.Links()))

			latest, err := catalog.LatestBackup(config.BackupDir, path)
			switch {
			case err != nil:
				slog.Warn("Failed to look up catalog backups", "error", err, "dir", config.BackupDir)
			case latest == "":
				fmt.Fprintf(out, "No backups in %s\n", config.BackupDir)
			default:
				fmt.Fprintf(out, "Latest backup: %s\n", latest)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&config.BackupDir, "backup-dir", config.BackupDir, "catalog backup directory (overrides $FORMPIPE_BACKUP_DIR)")
	return cmd
}
