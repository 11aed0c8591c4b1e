package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetFiles bool
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (catalog tables, recordings, detection results)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)
		ask := func(prompt string) bool {
			return resetYes || confirm(reader, os.Stdout, prompt)
		}

		if resetDB && DB != nil {
			if ask("⚠️  Are you sure you want to DROP all catalog tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					return fail("Failed to reset database", err)
				}
			}
		} else if resetDB {
			fmt.Println("ℹ️  No database configured, skipping catalog reset.")
		}

		if resetFiles {
			if ask(fmt.Sprintf("⚠️  Are you sure you want to delete %s and %s?", cfg.Paths.RecordingsDir, cfg.Paths.ResultsDir)) {
				fmt.Println("🗑️  Clearing recordings and detection results...")
				removeDir(cfg.Paths.RecordingsDir)
				removeDir(cfg.Paths.ResultsDir)
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear PostgreSQL catalog")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear recordings and detection results")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
