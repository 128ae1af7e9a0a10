// Command localdex is the entry point for the localdex document indexing
// and retrieval engine. It provides a CLI interface (via Cobra) for
// indexing, updating, deleting, and searching local document collections.
package main

import (
	"fmt"
	"os"

	"github.com/localdex/localdex/cmd/localdex/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
