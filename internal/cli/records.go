package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/memorykit/pkg/types"
)

func (e *env) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Get a record by primary key",
		Long: "Get retrieves a record from the named collection.\n\n" +
			"Valid collections: " + validCollectionsStr,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := e.attachBackend()
			if err != nil {
				return err
			}
			defer backend.Detach()

			c, err := collection(backend, args[0])
			if err != nil {
				return err
			}
			rec, err := c.Get(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			if rec == nil {
				return userError(fmt.Errorf("record %q not found in %q: %w", args[1], args[0], types.ErrNotFound))
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func (e *env) newListCmd() *cobra.Command {
	var index, value string
	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "List records, optionally filtered by a secondary index",
		Long: "List returns every record of a collection in storage order. With\n" +
			"--index and --value only records whose index column equals value are\n" +
			"returned.\n\nValid collections: " + validCollectionsStr,
		Example: "  memorykit list objectTypes\n  memorykit list diffs --index status --value PENDING",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (index == "") != (value == "") {
				return userError(errors.New("--index and --value must be given together"))
			}
			backend, err := e.attachBackend()
			if err != nil {
				return err
			}
			defer backend.Detach()

			c, err := collection(backend, args[0])
			if err != nil {
				return err
			}
			var recs []any
			if index == "" {
				recs, err = c.GetAll(cmd.Context())
			} else {
				recs, err = c.QueryByIndex(cmd.Context(), index, value)
			}
			if err != nil {
				if errors.Is(err, types.ErrIndexNotFound) {
					return userError(err)
				}
				return err
			}
			if recs == nil {
				recs = []any{}
			}
			return writeJSON(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().StringVar(&index, "index", "", "secondary index name")
	cmd.Flags().StringVar(&value, "value", "", "index value to match")
	return cmd
}

func (e *env) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Remove a record by primary key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := e.attachBackend()
			if err != nil {
				return err
			}
			defer backend.Detach()

			c, err := collection(backend, args[0])
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), args[1]); err != nil {
				return err
			}
			return e.emit(cmd, map[string]string{"deleted": args[1], "collection": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %s/%s\n", args[0], args[1])
			})
		},
	}
}
