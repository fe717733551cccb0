package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/memorykit/internal/app"
	"github.com/mesh-intelligence/memorykit/internal/review"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

func (e *env) newDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Review proposed changes",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List diffs by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(a *app.App) error {
				diffs, err := a.Review.List(cmd.Context(), strings.ToUpper(status))
				if err != nil {
					return err
				}
				if diffs == nil {
					diffs = []*types.Diff{}
				}
				return e.emit(cmd, diffs, func(w io.Writer) {
					for _, d := range diffs {
						keys := make([]string, len(d.Changes))
						for i, c := range d.Changes {
							keys[i] = c.AttributeKey
						}
						fmt.Fprintf(w, "%s  %-8s  instance %s  [%d,%d)  %s\n",
							d.ID, d.Status, d.InstanceID, d.BatchFrom, d.BatchTo, strings.Join(keys, ", "))
					}
				})
			})
		},
	}
	list.Flags().StringVar(&status, "status", types.DiffStatusPending, "PENDING, APPLIED or REJECTED")

	apply := &cobra.Command{
		Use:   "apply <id>",
		Short: "Apply a pending diff, writing confirmed values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.diffTransition(cmd, args[0], (*review.Service).Apply, "Applied")
		},
	}
	reject := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending diff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.diffTransition(cmd, args[0], (*review.Service).Reject, "Rejected")
		},
	}
	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Complete diffs whose apply was interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(a *app.App) error {
				// Open already ran one pass.
				n, err := a.Review.Recover(cmd.Context())
				if err != nil {
					return err
				}
				total := a.Recovered + n
				return e.emit(cmd, map[string]int{"recovered": total}, func(w io.Writer) {
					fmt.Fprintf(w, "Recovered %d diffs\n", total)
				})
			})
		},
	}

	cmd.AddCommand(list, apply, reject, recoverCmd)
	return cmd
}

func (e *env) diffTransition(cmd *cobra.Command, id string, op func(*review.Service, context.Context, string) (*types.Diff, error), verb string) error {
	return e.withApp(cmd, func(a *app.App) error {
		d, err := op(a.Review, cmd.Context(), id)
		if err != nil {
			return err
		}
		return e.emit(cmd, d, func(w io.Writer) {
			fmt.Fprintf(w, "%s diff %s\n", verb, d.ID)
		})
	})
}

func (e *env) newValueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "value",
		Short: "Propose and review individual values",
	}

	var in review.ValueInput
	add := &cobra.Command{
		Use:   "add <instance-id> <attribute>",
		Short: "Propose a pending value for an instance attribute",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.InstanceID, in.AttributeKey = args[0], args[1]
			return e.withApp(cmd, func(a *app.App) error {
				v, err := a.Review.AddValue(cmd.Context(), in)
				if err != nil {
					return err
				}
				return e.emit(cmd, v, func(w io.Writer) {
					fmt.Fprintf(w, "Added pending value %s\n", v.ID)
				})
			})
		},
	}
	add.Flags().StringVar(&in.Text, "text", "", "scalar value text")
	add.Flags().StringArrayVar(&in.Items, "item", nil, "list item (repeatable)")
	add.Flags().StringVar(&in.StoryTime, "story-time", "", "story time, e.g. \"1205-03-14, 18:30\"")
	add.Flags().StringVar(&in.Attitude, "attitude", "", "attitude toward the fact")

	confirm := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm a pending value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.valueTransition(cmd, args[0], (*review.Service).ConfirmValue, "Confirmed")
		},
	}
	reject := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.valueTransition(cmd, args[0], (*review.Service).RejectValue, "Rejected")
		},
	}

	cmd.AddCommand(add, confirm, reject)
	return cmd
}

func (e *env) valueTransition(cmd *cobra.Command, id string, op func(*review.Service, context.Context, string) (*types.Value, error), verb string) error {
	return e.withApp(cmd, func(a *app.App) error {
		v, err := op(a.Review, cmd.Context(), id)
		if err != nil {
			return err
		}
		return e.emit(cmd, v, func(w io.Writer) {
			fmt.Fprintf(w, "%s value %s\n", verb, v.ID)
		})
	})
}

// withApp opens the App, runs fn and closes it.
func (e *env) withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	a, err := e.openApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
