// Command dcpstat inspects the on-disk session state the dynamic
// context pruning engine persists (§6 statsAllSessions).
package main

import (
	"fmt"
	"os"

	"github.com/sst/opencode-dynamic-context-pruning/cmd/dcpstat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
