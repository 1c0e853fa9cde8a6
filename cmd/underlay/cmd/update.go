package cmd

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/sync"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Advance the vendored base layer to the upstream head",
	Long: `Advance the vendored base layer to the head of the tracked channel and
republish the merged output.

State is snapshotted before anything is written. A failure during the update
restores the snapshot, so the project is either fully updated or untouched.
Local modifications of the vendored tree abort the update unless --force is
given, hand edits belong in the overlay.`,
	Example: `% underlay update --dry-run
% underlay update --channel hotfix`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		p, err := newProject()
		if err != nil {
			wrapFatalln("configure project", err)
			return
		}
		result, err := p.Update(ctx, sync.UpdateOptions{
			DryRun:  underlayFlags.update.dryRun,
			Force:   underlayFlags.update.force,
			Channel: underlayFlags.update.channel,
		})
		if err != nil {
			fatalWith("update", err)
			return
		}
		if result.State == sync.StateUpToDate {
			infoLogger.Printf("already up to date at version %s (revision %s)",
				result.Ledger.Version, shortRevision(result.Ledger.UpstreamRevision))
			return
		}
		printDiff(result.Diff)
		if result.DryRun {
			if result.Preview != "" {
				_, _ = logStdOut("%s", result.Preview)
			}
			infoLogger.Println("dry run, no changes were made")
			return
		}
		infoLogger.Printf("updated to version %s (revision %s), backup %s",
			result.Ledger.Version, shortRevision(result.Ledger.UpstreamRevision), result.BackupID)
	},
}

// printDiff renders one line per changed vendor file plus a summary.
func printDiff(diff model.TreeDiff) {
	for _, entry := range diff.Entries {
		switch entry.Type {
		case model.DiffEntryTypeAdd:
			infoLogger.Println(color.GreenString("A %s", entry.Path))
		case model.DiffEntryTypeDel:
			infoLogger.Println(color.RedString("D %s", entry.Path))
		case model.DiffEntryTypeMod:
			infoLogger.Println(color.YellowString("M %s", entry.Path))
		}
	}
	added, deleted, modified := diff.Summary()
	infoLogger.Printf("%d added, %d deleted, %d modified", added, deleted, modified)
}

func init() {
	addDryRunFlag(updateCmd)
	addUpdateForceFlag(updateCmd)
	addUpdateChannelFlag(updateCmd)
	rootCmd.AddCommand(updateCmd)
}
