// Copyright © 2018 One Concern

package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/underlay-tools/underlay/pkg/sync"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "underlay",
	Short: "Underlay keeps projects synchronized with a shared base layer",
	Long: `Underlay vendors a shared base layer of configuration into a project,
keeps project customizations in an overlay tree, and publishes the merged
result of the two.

The vendored tree is never hand edited: updates replace it wholesale, and the
merged output is re-derived from vendor and overlay on every run. State is
snapshotted before any mutation, so a failed run restores what it found.
`,
}

var config *CLIConfig

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		osExit(1)
	}
}

func init() {
	log.SetFlags(0)
	cobra.OnInitialize(initConfig)
	addLogLevelFlag(rootCmd)
	addProjectFlag(rootCmd)
	addOutputFlag(rootCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetDefault("backup.retain", true)
	viper.SetDefault("backup.keep", sync.DefaultKeepBackups)
	if os.Getenv("UNDERLAY_CONFIG") != "" {
		// Use config file from the environment.
		viper.SetConfigFile(os.Getenv("UNDERLAY_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.underlay")
		viper.SetConfigName("underlay")
	}

	viper.AutomaticEnv() // read in environment variables that match
	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Println("Using config file:", viper.ConfigFileUsed())
	}
	var err error
	config, err = newConfig()
	if err != nil {
		logFatalln(err)
	}
	config.setUnderlayParams(&underlayFlags)
}
