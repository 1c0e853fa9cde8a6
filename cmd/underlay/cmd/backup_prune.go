package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var backupPrune = &cobra.Command{
	Use:   "prune",
	Short: "Remove old backups",
	Long: `Remove all but the most recent complete backups. Backups without a
descriptor, left behind by interrupted snapshots, are always swept. The most
recent complete backup always survives.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		p, err := newProject()
		if err != nil {
			wrapFatalln("configure project", err)
			return
		}
		removed, err := p.PruneBackups(ctx, underlayFlags.backup.keep)
		if err != nil {
			fatalWith("prune backups", err)
			return
		}
		if len(removed) == 0 {
			infoLogger.Println("nothing to prune")
			return
		}
		for _, id := range removed {
			infoLogger.Println("removed", id)
		}
	},
}

func init() {
	addKeepFlag(backupPrune)
	backupCmd.AddCommand(backupPrune)
}
