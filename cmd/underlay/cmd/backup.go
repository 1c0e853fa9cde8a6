package cmd

import (
	"github.com/spf13/cobra"
)

// backupCmd represents the backup related commands
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Commands to manage state backups",
	Long: `Commands to manage the snapshots taken before state mutations.

Every init, update and publish snapshots the vendored tree, the managed
output files, the ledger and the manifest before writing anything. These
commands list, restore and prune those snapshots.`,
}

func init() {
	rootCmd.AddCommand(backupCmd)
}
