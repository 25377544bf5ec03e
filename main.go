// Command sngcored is the entry point for the sngrep-core capture daemon.
package main

import (
	"fmt"
	"os"

	"github.com/otus-sngrep/sngcore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
