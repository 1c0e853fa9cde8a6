package cmd

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/underlay-tools/underlay/pkg/sync"
)

// patched over in tests
var inputReader io.Reader = os.Stdin

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Vendor the upstream base layer into this project",
	Long: `Vendor the upstream base layer into this project and produce the first
merged output.

The source is fetched into the vendored tree, a small overlay is scaffolded
when none exists, and the merge of the two is published. The applied version
and revision are recorded in the version ledger at the project root.

A project that already has a ledger or a non empty vendored tree refuses to
initialize unless --force is given.`,
	Example: `% underlay init --source https://github.com/acme/base-layer.git
% underlay init --source ../shared/base --channel stable --output .`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if underlayFlags.initialize.force && !underlayFlags.initialize.nonInteractive {
			if !confirm("replace the existing vendored tree and ledger?") {
				infoLogger.Println("aborted")
				return
			}
		}
		p, err := newProject()
		if err != nil {
			wrapFatalln("configure project", err)
			return
		}
		ledger, err := p.Init(ctx, sync.InitOptions{
			Channel:    underlayFlags.initialize.channel,
			Force:      underlayFlags.initialize.force,
			SelfHosted: config != nil && config.SelfHosted,
		})
		if err != nil {
			fatalWith("initialize project", err)
			return
		}
		infoLogger.Printf("initialized from %s at version %s (revision %s, channel %q)",
			ledger.SourceLocation, ledger.Version, shortRevision(ledger.UpstreamRevision), ledger.Channel)
	},
}

// confirm asks a yes/no question on the terminal. Anything but an
// explicit yes declines.
func confirm(prompt string) bool {
	_, _ = logStdOut("%s [y/N] ", prompt)
	line, _ := bufio.NewReader(inputReader).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func init() {
	addSourceFlag(initCmd)
	addChannelFlag(initCmd)
	addInitForceFlag(initCmd)
	addNonInteractiveFlag(initCmd)
	rootCmd.AddCommand(initCmd)
}
