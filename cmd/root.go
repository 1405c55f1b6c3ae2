// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "leakwatch",
	Short: "Leakwatch - on-device privacy leak inspection for outbound traffic",
	Long: `Leakwatch inspects outbound IPv4 traffic for personal data such as device
identifiers, phone numbers, e-mail addresses and location coordinates.

Every payload is matched against the configured filter values in a single
pass. Depending on the rule for the owning app a leak is allowed, hashed in
place (same length, checksums fixed) or the whole packet is blocked.

Features:
  - Multi-pattern scanning with atomically swapped automatons
  - Per-app and global filter rules loaded from YAML
  - pcapng capture files with session metadata
  - Leak log dispatch to logs or Kafka`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults only when empty)")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
