package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var backupRestore = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore project state from a backup",
	Long: `Restore the vendored tree, the managed output files, the ledger and the
manifest from a snapshot. Every captured file is verified against the backup
descriptor before any live state is touched, a damaged backup restores
nothing.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		p, err := newProject()
		if err != nil {
			wrapFatalln("configure project", err)
			return
		}
		if err := p.RestoreBackup(ctx, args[0]); err != nil {
			fatalWith("restore backup", err)
			return
		}
		infoLogger.Printf("restored state from backup %s", args[0])
	},
}

func init() {
	backupCmd.AddCommand(backupRestore)
}
