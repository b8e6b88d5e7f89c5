package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "configstore",
	Short: "Git-backed multi-tenant configuration store",
	Long: `Configstore serves tenant configuration out of on-disk Git
repositories. Each tenant is a repository, each environment a branch,
and each configuration fragment a file; every write is a commit whose
hash is the HTTP ETag. Repositories are also reachable with a stock Git
client over smart HTTP, and pushes stream back to REST subscribers.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
