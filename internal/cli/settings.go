package cli

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/memorykit/internal/app"
	"github.com/mesh-intelligence/memorykit/internal/settings"
)

func (e *env) newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage runtime settings stored with the data",
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(a *app.App) error {
				v, err := a.Settings.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return e.emit(cmd, map[string]any{args[0]: v}, func(w io.Writer) {
					fmt.Fprintln(w, v)
				})
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Long: "Values of numeric and boolean settings are parsed as JSON; string\n" +
			"settings take the text as given.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := settings.ParseValue(args[0], args[1])
			if err != nil {
				return err
			}
			return e.withApp(cmd, func(a *app.App) error {
				if err := a.Settings.Set(cmd.Context(), args[0], v); err != nil {
					return err
				}
				return e.emit(cmd, map[string]any{args[0]: v}, func(w io.Writer) {
					fmt.Fprintf(w, "%s = %v\n", args[0], v)
				})
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print every setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(a *app.App) error {
				all, err := a.Settings.GetAll(cmd.Context())
				if err != nil {
					return err
				}
				return e.emit(cmd, all, func(w io.Writer) {
					for _, k := range slices.Sorted(maps.Keys(all)) {
						fmt.Fprintf(w, "%-28s %v\n", k, all[k])
					}
				})
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Restore every setting to its default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(a *app.App) error {
				if err := a.Settings.ResetToDefaults(cmd.Context()); err != nil {
					return err
				}
				return e.emit(cmd, map[string]bool{"reset": true}, func(w io.Writer) {
					fmt.Fprintln(w, "settings reset to defaults")
				})
			})
		},
	}

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write a settings backup as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(a *app.App) error {
				exp, err := a.Settings.Export(cmd.Context())
				if err != nil {
					return err
				}
				if out == "" {
					return writeJSON(cmd.OutOrStdout(), exp)
				}
				f, err := os.Create(out)
				if err != nil {
					return sysError(err)
				}
				if err := writeJSON(f, exp); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return sysError(err)
				}
				return e.emit(cmd, map[string]string{"exported": out}, func(w io.Writer) {
					fmt.Fprintf(w, "Exported %d settings to %s\n", len(exp.Settings), out)
				})
			})
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")

	imp := &cobra.Command{
		Use:   "import <file>",
		Short: "Merge a settings backup; use - for stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return userError(fmt.Errorf("read settings: %w", err))
			}
			return e.withApp(cmd, func(a *app.App) error {
				n, err := a.Settings.Import(cmd.Context(), data)
				if err != nil {
					return err
				}
				return e.emit(cmd, map[string]int{"imported": n}, func(w io.Writer) {
					fmt.Fprintf(w, "Imported %d settings\n", n)
				})
			})
		},
	}

	timeMode := &cobra.Command{
		Use:   "time-mode [real|story|hybrid]",
		Short: "Show or change how facts are ordered in time",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(a *app.App) error {
				ctx := cmd.Context()
				if len(args) == 1 {
					if err := a.Settings.SetTimeMode(ctx, args[0]); err != nil {
						return err
					}
				}
				tm, err := a.Settings.TimeModeSettings(ctx)
				if err != nil {
					return err
				}
				return e.emit(cmd, tm, func(w io.Writer) {
					fmt.Fprintf(w, "mode %s (story format %q, real format %q)\n", tm.Mode, tm.StoryFormat, tm.RealFormat)
				})
			})
		},
	}

	unlimited := &cobra.Command{
		Use:   "unlimited <attribute-class> <on|off>",
		Short: "Lift or restore the length limit of an attribute class",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch args[1] {
			case "on", "true":
				on = true
			case "off", "false":
			default:
				return userError(errors.New("expected on or off"))
			}
			return e.withApp(cmd, func(a *app.App) error {
				if err := a.Settings.SetUnlimitedLength(cmd.Context(), args[0], on); err != nil {
					return err
				}
				return e.emit(cmd, map[string]any{"class": args[0], "unlimited": on}, func(w io.Writer) {
					fmt.Fprintf(w, "%s unlimited: %t\n", args[0], on)
				})
			})
		},
	}

	var ellipsis bool
	truncate := &cobra.Command{
		Use:   "truncate <attribute-class> <text>",
		Short: "Cut text to the limit of an attribute class",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(a *app.App) error {
				out, err := a.Settings.TruncateAttribute(cmd.Context(), args[0], args[1], ellipsis)
				if err != nil {
					return err
				}
				return e.emit(cmd, map[string]any{"value": out, "truncated": out != args[1]}, func(w io.Writer) {
					fmt.Fprintln(w, out)
				})
			})
		},
	}
	truncate.Flags().BoolVar(&ellipsis, "ellipsis", true, "append \""+settings.Ellipsis+"\" when text is cut")

	cmd.AddCommand(get, set, list, reset, export, imp, timeMode, unlimited, truncate)
	return cmd
}
