package cmd

import (
	"github.com/spf13/viper"
)

// CLIConfig describes the CLI configuration, read from underlay.yaml or
// the UNDERLAY_CONFIG file.
type CLIConfig struct {
	// bug in viper? Need to keep names of fields the same as the serialized names..

	// Source is the upstream base layer location, a git URL or a directory
	Source string `json:"source" yaml:"source"`
	// Channel is the upstream channel tracked at init
	Channel string `json:"channel" yaml:"channel"`
	// Output is where merged files are published, relative to the project root
	Output string `json:"output" yaml:"output"`
	// LogLevel is the default logging level
	LogLevel string `json:"loglevel" yaml:"loglevel" mapstructure:"loglevel"`
	// SelfHosted marks a project that maintains its own base layer
	SelfHosted bool `json:"self_hosted" yaml:"self_hosted" mapstructure:"self_hosted"`
	// Backup tunes the retention policy for pre-operation snapshots
	Backup struct {
		Retain bool `json:"retain" yaml:"retain"`
		Keep   int  `json:"keep" yaml:"keep"`
	} `json:"backup" yaml:"backup"`
}

func newConfig() (*CLIConfig, error) {
	var config CLIConfig
	err := viper.Unmarshal(&config)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// setUnderlayParams feeds configured defaults into flags the user did
// not set. The update channel is deliberately absent: the tracked
// channel lives in the ledger, configuration must not override it on
// every run.
func (c *CLIConfig) setUnderlayParams(flags *flagsT) {
	if flags.initialize.source == "" {
		flags.initialize.source = c.Source
	}
	if flags.initialize.channel == "" {
		flags.initialize.channel = c.Channel
	}
	if flags.root.output == "" {
		flags.root.output = c.Output
	}
	if flags.root.logLevel == "" {
		flags.root.logLevel = c.LogLevel
	}
	flags.backup.retain = c.Backup.Retain
	if flags.backup.keep == 0 {
		flags.backup.keep = c.Backup.Keep
	}
}
