package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vigil/internal/config"
	"vigil/internal/watch"
)

func newCheckConfigCommand() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "checkconfig",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: configuration ok, %d watchers, listen %s\n",
				path, len(cfg.Watchers), cfg.Server.Listen)
			for _, entry := range cfg.Watchers {
				fmt.Fprintf(out, "  %-16s %-8s %s\n", entry.Name, entry.Kind, watcherTarget(entry))
			}
			return nil
		},
	}
	checkCmd.Flags().String("config", "vigil.yaml", "configuration file")
	return checkCmd
}

func watcherTarget(entry config.Watcher) string {
	switch entry.Kind {
	case watch.KindFileTail:
		return entry.Path
	case watch.KindPing:
		return entry.Addr
	case watch.KindExec:
		return strings.Join(entry.Command, " ")
	}
	return ""
}
