package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func (e *env) newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import the store as JSONL files",
	}

	export := &cobra.Command{
		Use:   "export <dir>",
		Short: "Write one <collection>.jsonl file per collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := e.attachBackend()
			if err != nil {
				return err
			}
			defer backend.Detach()

			if err := backend.ExportJSONL(cmd.Context(), args[0]); err != nil {
				return err
			}
			return e.emit(cmd, map[string]string{"exported": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Exported snapshot to %s\n", args[0])
			})
		},
	}

	imp := &cobra.Command{
		Use:   "import <dir>",
		Short: "Load a snapshot, replacing records with the same keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := e.attachBackend()
			if err != nil {
				return err
			}
			defer backend.Detach()

			stats, err := backend.ImportJSONL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return e.emit(cmd, stats, func(w io.Writer) {
				for name, n := range stats.Loaded {
					fmt.Fprintf(w, "%-12s %d\n", name, n)
				}
				if stats.Skipped > 0 {
					fmt.Fprintf(w, "skipped %d malformed lines\n", stats.Skipped)
				}
			})
		},
	}

	cmd.AddCommand(export, imp)
	return cmd
}
