package cmd

import (
	"context"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

var backupList = &cobra.Command{
	Use:   "list",
	Short: "List available backups",
	Long:  `List the snapshots available for restore, oldest first.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		p, err := newProject()
		if err != nil {
			wrapFatalln("configure project", err)
			return
		}
		descriptors, err := p.Backups(ctx)
		if err != nil {
			fatalWith("list backups", err)
			return
		}
		if len(descriptors) == 0 {
			infoLogger.Println("no backups")
			return
		}
		table := uitable.New()
		table.AddRow("ID", "CREATED", "REASON", "VERSION", "FILES", "SIZE")
		for _, d := range descriptors {
			var total int64
			for _, e := range d.Entries {
				total += e.Size
			}
			table.AddRow(d.ID, d.CreatedAt.Format(time.RFC3339), d.Reason, d.BaseVersion,
				strconv.Itoa(len(d.Entries)), units.HumanSize(float64(total)))
		}
		_, _ = logStdOut("%s\n", table.String())
	},
}

func init() {
	backupCmd.AddCommand(backupList)
}
