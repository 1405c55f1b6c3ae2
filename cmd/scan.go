package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/leakwatch/internal/ahocorasick"
)

var scanCmd = &cobra.Command{
	Use:   "scan [flags] <text>...",
	Short: "Print every pattern occurrence in a text",
	Long: `Build an automaton from the given patterns and print every match found in
the text, one per line as <pattern> <end offset>. Arguments are joined with
single spaces.

Examples:
  leakwatch scan -p he -p she -p his -p hers ushers
  leakwatch scan -p 33.6 -p=-117.8 "lat=33.61&lon=-117.84"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd.OutOrStdout(), scanPatterns, strings.Join(args, " "))
	},
}

var scanPatterns []string

func init() {
	scanCmd.Flags().StringArrayVarP(&scanPatterns, "pattern", "p", nil,
		"pattern to search for (repeatable, required)")
	scanCmd.MarkFlagRequired("pattern")
}

func runScan(w io.Writer, patterns []string, text string) error {
	a, err := ahocorasick.Build(patterns)
	if err != nil {
		return err
	}
	matches := a.Scan([]byte(text))
	for _, m := range matches {
		fmt.Fprintf(w, "%s\t%d\n", m.Pattern, m.End)
	}
	fmt.Fprintf(w, "%d match(es)\n", len(matches))
	return nil
}
