package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/underlay-tools/underlay/pkg/sync"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the synchronization state of this project",
	Long: `Show the recorded state of this project: applied version and revision,
tracked channel and source, vendored tree size and available backups.

Unless --local is given the upstream head is also resolved and the project is
reported as up to date, behind or diverged. Failing to reach the upstream does
not fail the command, the local state is still printed.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		p, err := newProject()
		if err != nil {
			wrapFatalln("configure project", err)
			return
		}
		info, err := p.Info(ctx)
		if err != nil {
			fatalWith("status", err)
			return
		}

		table := uitable.New()
		table.MaxColWidth = 80
		table.AddRow("version:", info.Ledger.Version)
		table.AddRow("channel:", info.Ledger.Channel)
		table.AddRow("source:", info.Ledger.SourceLocation)
		table.AddRow("revision:", shortRevision(info.Ledger.UpstreamRevision))
		if info.Ledger.PreviousRevision != "" {
			table.AddRow("previous:", shortRevision(info.Ledger.PreviousRevision))
		}
		if info.Ledger.SelfHosted {
			table.AddRow("self hosted:", "yes")
		}
		table.AddRow("updated:", info.Ledger.UpdatedAt.Format(time.RFC3339))
		table.AddRow("vendor:", fmt.Sprintf("%d files, %s",
			info.VendorFiles, units.HumanSize(float64(info.VendorBytes))))
		if info.Manifest != nil {
			table.AddRow("outputs:", strconv.Itoa(len(info.Manifest.Files))+" files")
		}
		table.AddRow("backups:", strconv.Itoa(len(info.Backups)))
		_, _ = logStdOut("%s\n", table.String())

		if underlayFlags.status.local {
			return
		}
		result, err := p.Check(ctx)
		if err != nil {
			infoLogger.Println("state: unknown,", err)
			return
		}
		_, _ = logStdOut("state: %s\n", colorState(result.State))
		if result.State == sync.StateBehind {
			remote := shortRevision(result.Remote.ID)
			if result.Remote.Tag != "" {
				remote += " (" + result.Remote.Tag + ")"
			}
			_, _ = logStdOut("remote: %s\n", remote)
		}
	},
}

func colorState(state sync.CheckState) string {
	switch state {
	case sync.StateUpToDate:
		return color.GreenString(state.String())
	case sync.StateBehind:
		return color.YellowString(state.String())
	case sync.StateDiverged:
		return color.RedString(state.String())
	}
	return state.String()
}

func init() {
	addStatusLocalFlag(statusCmd)
	rootCmd.AddCommand(statusCmd)
}
