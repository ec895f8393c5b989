// Command posdb is the offline position-count database's command-line
// entry point: create, merge, tcp, convert, count_games and bench, the
// subcommand surface original_source's CommandLineTool exposes as
// positional argv commands, rebuilt here as spf13/cobra subcommands.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
