package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hookrelay <command>",
	Short: "Relay Genesys Cloud AudioHook operational events to a bulk sink",
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(topicsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
