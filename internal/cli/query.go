package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/memorykit/internal/app"
	"github.com/mesh-intelligence/memorykit/internal/retrieval"
)

func (e *env) newQueryCmd() *cobra.Command {
	var req retrieval.QueryRequest
	cmd := &cobra.Command{
		Use:   "query [terms...]",
		Short: "Retrieve confirmed facts matching the terms",
		Long: "query scores every visible instance by how many terms appear in its\n" +
			"key and confirmed values and prints the best ones grouped by type.\n" +
			"Without terms every visible instance matches.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = strings.Join(args, " ")
			return e.withApp(cmd, func(a *app.App) error {
				resp, err := a.Retrieval.Query(cmd.Context(), req)
				if err != nil {
					return err
				}
				return e.emit(cmd, resp, func(w io.Writer) {
					if len(resp.Sources) == 0 {
						fmt.Fprintln(w, "no matching facts")
						return
					}
					for typeKey, records := range resp.Hint {
						fmt.Fprintf(w, "%s:\n", typeKey)
						for _, r := range records {
							fmt.Fprintf(w, "  %v\n", r)
						}
					}
					fmt.Fprintf(w, "%d sources, about %d characters\n", len(resp.Sources), resp.ApproxChars)
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.Scope.CharacterID, "character", "", "read as this character")
	cmd.Flags().BoolVar(&req.Scope.Global, "global", false, "read only global facts")
	cmd.Flags().IntVar(&req.Limit, "limit", retrieval.DefaultLimit, "maximum records")
	cmd.Flags().IntVar(&req.MaxChars, "max-chars", retrieval.DefaultMaxChars, "approximate character budget")
	return cmd
}
