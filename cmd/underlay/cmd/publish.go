package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/underlay-tools/underlay/pkg/sync"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Mirror project directories into the vendored base layer",
	Long: `Mirror designated project directories into the vendored base layer. This
is the maintainer path of a self hosted project: the project edits its base
layer in place and publishes it for consumers pointing at this project.

Directory mappings come from the publish.map configuration, a list of
{from, to} entries, and from repeated --map from:to flags. Each mapping
wholesale replaces its target prefix inside the vendored tree. The ledger
fingerprint is refreshed so the rewritten tree does not read as drift.`,
	Example: `% underlay publish --map templates:templates
% underlay publish    # uses publish.map from underlay.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		p, err := newProject()
		if err != nil {
			wrapFatalln("configure project", err)
			return
		}
		pairs, err := publishPairs()
		if err != nil {
			wrapFatalln("read publish map", err)
			return
		}
		result, err := p.Publish(ctx, sync.PublishOptions{Pairs: pairs})
		if err != nil {
			fatalWith("publish", err)
			return
		}
		printDiff(result.Diff)
		infoLogger.Printf("published into the vendored tree, backup %s", result.BackupID)
	},
}

// publishPairs collects directory mappings from configuration and from
// --map flags, in that order.
func publishPairs() ([]sync.PublishPair, error) {
	var pairs []sync.PublishPair
	if raw, ok := viper.Get("publish.map").([]interface{}); ok {
		for _, entry := range raw {
			kv := cast.ToStringMapString(entry)
			if kv["from"] == "" {
				return nil, fmt.Errorf("publish.map entry %v has no from directory", entry)
			}
			pairs = append(pairs, sync.PublishPair{From: kv["from"], To: kv["to"]})
		}
	}
	for _, arg := range underlayFlags.publish.maps {
		from, to, _ := strings.Cut(arg, ":")
		if from == "" {
			return nil, fmt.Errorf("mapping %q must look like from:to", arg)
		}
		pairs = append(pairs, sync.PublishPair{From: from, To: to})
	}
	return pairs, nil
}

func init() {
	addPublishMapFlag(publishCmd)
	rootCmd.AddCommand(publishCmd)
}
