// Copyright © 2018 One Concern

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/underlay-tools/underlay"
	"github.com/underlay-tools/underlay/pkg/dlogger"
)

type flagsT struct {
	root struct {
		logLevel string
		project  string
		output   string
	}
	initialize struct {
		source         string
		channel        string
		force          bool
		nonInteractive bool
	}
	update struct {
		dryRun  bool
		force   bool
		channel string
	}
	build struct {
		watch bool
	}
	status struct {
		local bool
	}
	backup struct {
		retain bool
		keep   int
	}
	publish struct {
		maps []string
	}
}

var underlayFlags = flagsT{}

func addLogLevelFlag(cmd *cobra.Command) string {
	loglevel := "loglevel"
	cmd.PersistentFlags().StringVar(&underlayFlags.root.logLevel, loglevel, "",
		"The logging level, one of info, debug, none. Defaults to info")
	return loglevel
}

func addProjectFlag(cmd *cobra.Command) string {
	project := "project"
	cmd.PersistentFlags().StringVar(&underlayFlags.root.project, project, ".",
		"The project root directory")
	return project
}

func addOutputFlag(cmd *cobra.Command) string {
	output := "output"
	cmd.PersistentFlags().StringVar(&underlayFlags.root.output, output, "",
		"Where merged files are published, relative to the project root. Defaults to the dist directory under the state dir")
	return output
}

func addSourceFlag(cmd *cobra.Command) string {
	source := "source"
	cmd.Flags().StringVar(&underlayFlags.initialize.source, source, "",
		"The upstream base layer, a git URL or a local directory")
	return source
}

func addChannelFlag(cmd *cobra.Command) string {
	channel := "channel"
	cmd.Flags().StringVar(&underlayFlags.initialize.channel, channel, "",
		"The upstream channel (branch) to track. Defaults to main")
	return channel
}

func addInitForceFlag(cmd *cobra.Command) string {
	force := "force"
	cmd.Flags().BoolVar(&underlayFlags.initialize.force, force, false,
		"Replace an existing vendored tree and ledger")
	return force
}

func addNonInteractiveFlag(cmd *cobra.Command) string {
	nonInteractive := "non-interactive"
	cmd.Flags().BoolVar(&underlayFlags.initialize.nonInteractive, nonInteractive, false,
		"Never prompt for confirmation")
	return nonInteractive
}

func addDryRunFlag(cmd *cobra.Command) string {
	dryRun := "dry-run"
	cmd.Flags().BoolVar(&underlayFlags.update.dryRun, dryRun, false,
		"Report what would change without mutating anything")
	return dryRun
}

func addUpdateForceFlag(cmd *cobra.Command) string {
	force := "force"
	cmd.Flags().BoolVar(&underlayFlags.update.force, force, false,
		"Proceed over local modifications of the vendored tree")
	return force
}

func addUpdateChannelFlag(cmd *cobra.Command) string {
	channel := "channel"
	cmd.Flags().StringVar(&underlayFlags.update.channel, channel, "",
		"Pull from this channel for this run only, without retracking")
	return channel
}

func addWatchFlag(cmd *cobra.Command) string {
	watch := "watch"
	cmd.Flags().BoolVar(&underlayFlags.build.watch, watch, false,
		"Keep running and rebuild whenever vendor or overlay files change")
	return watch
}

func addStatusLocalFlag(cmd *cobra.Command) string {
	local := "local"
	cmd.Flags().BoolVar(&underlayFlags.status.local, local, false,
		"Do not contact the upstream")
	return local
}

func addKeepFlag(cmd *cobra.Command) string {
	keep := "keep"
	cmd.Flags().IntVar(&underlayFlags.backup.keep, keep, 0,
		"How many backups to keep, at least one survives. Defaults to the configured backup.keep")
	return keep
}

func addPublishMapFlag(cmd *cobra.Command) string {
	mapping := "map"
	cmd.Flags().StringSliceVar(&underlayFlags.publish.maps, mapping, nil,
		"A from:to directory mapping, may be repeated. Added after the configured publish.map entries")
	return mapping
}

// newProject composes the project runtime the current flags point at.
func newProject(opts ...underlay.Option) (*underlay.Project, error) {
	level := underlayFlags.root.logLevel
	if level == "" {
		level = dlogger.LogLevelInfo
	}
	opts = append([]underlay.Option{
		underlay.LogLevel(level),
		underlay.Source(underlayFlags.initialize.source),
		underlay.Output(underlayFlags.root.output),
		underlay.RetainBackups(underlayFlags.backup.retain),
		underlay.KeepBackups(underlayFlags.backup.keep),
	}, opts...)
	return underlay.New(underlayFlags.root.project, opts...)
}

// shortRevision truncates hash-like revisions for display.
func shortRevision(revision string) string {
	if len(revision) > 12 {
		return revision[:12]
	}
	return revision
}
