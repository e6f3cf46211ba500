// Command vigil runs the watcher daemon and its companion tools: a
// foreground file tail, a configuration checker, and version output.
package main

import (
	"os"

	"github.com/spf13/cobra"

	// Watcher kinds register themselves with the build registry.
	_ "vigil/internal/watch/execprobe"
	_ "vigil/internal/watch/filetail"
	_ "vigil/internal/watch/ping"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "vigil",
		Short: "Bounded log tailing and liveness watching",
		Long: "Vigil follows files, pings addresses, and probes commands, keeping a\n" +
			"bounded window of recent activity per watcher and serving the results\n" +
			"over HTTP.",
	}
	root.AddCommand(
		newServeCommand(),
		newTailCommand(),
		newCheckConfigCommand(),
		newVersionCommand(),
	)
	return root
}
