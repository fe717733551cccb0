package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/memorykit/internal/schema"
	"github.com/mesh-intelligence/memorykit/internal/settings"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

func (e *env) newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and extend object types",
	}
	cmd.AddCommand(e.newSchemaListCmd(), e.newSchemaShowCmd(), e.newSchemaSeedCmd(), e.newSchemaAddAttributeCmd())
	return cmd
}

func (e *env) newSchemaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List object types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.openApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			all, err := a.Schema.Types(cmd.Context())
			if err != nil {
				return err
			}
			return e.emit(cmd, all, func(w io.Writer) {
				for _, ot := range all {
					keys := make([]string, len(ot.Attributes))
					for i, at := range ot.Attributes {
						keys[i] = at.Key
					}
					fmt.Fprintf(w, "%-10s %-10s %s\n", ot.Key, ot.Label, strings.Join(keys, ", "))
				}
			})
		},
	}
}

type attributeView struct {
	types.AttributeTemplate
	EffectiveLimit int  `json:"effectiveLimit"`
	Unlimited      bool `json:"unlimited"`
}

func (e *env) newSchemaShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <type>",
		Short: "Show an object type with the effective limit of each attribute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.openApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			ot, err := a.Schema.Type(ctx, args[0])
			if err != nil {
				return err
			}
			views := make([]attributeView, len(ot.Attributes))
			for i, at := range ot.Attributes {
				limit, err := a.Schema.EffectiveLimit(ctx, at)
				if err != nil {
					return err
				}
				views[i] = attributeView{AttributeTemplate: at, EffectiveLimit: limit.Max, Unlimited: limit.Unlimited}
			}
			out := map[string]any{"type": ot, "attributes": views}
			return e.emit(cmd, out, func(w io.Writer) {
				fmt.Fprintf(w, "%s (%s): %s\n", ot.Key, ot.Label, ot.Description)
				for _, v := range views {
					limit := fmt.Sprintf("max %d", v.EffectiveLimit)
					if v.Unlimited {
						limit = "unlimited"
					}
					req := ""
					if v.Required {
						req = ", required"
					}
					fmt.Fprintf(w, "  %-14s %s, %s%s\n", v.Key, strings.ToLower(v.ValueKind), limit, req)
				}
			})
		},
	}
}

func (e *env) newSchemaSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the built-in object types into an empty store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := e.attachBackend()
			if err != nil {
				return err
			}
			defer backend.Detach()

			reg := schema.New(backend, settings.New(backend, nil), nil)
			seeded, err := reg.SeedDefaultSchema(cmd.Context())
			if err != nil {
				return err
			}
			return e.emit(cmd, map[string]bool{"seeded": seeded}, func(w io.Writer) {
				if seeded {
					fmt.Fprintln(w, "default schema seeded")
				} else {
					fmt.Fprintln(w, "object types already present, nothing seeded")
				}
			})
		},
	}
}

func (e *env) newSchemaAddAttributeCmd() *cobra.Command {
	var (
		tmpl  types.AttributeTemplate
		list  bool
		rules []string
	)
	cmd := &cobra.Command{
		Use:   "add-attribute <type> <key>",
		Short: "Append an attribute template to an object type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.openApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			tmpl.Key = args[1]
			tmpl.ValueKind = types.ValueKindScalar
			if list {
				tmpl.ValueKind = types.ValueKindList
			}
			for _, r := range rules {
				tmpl.Rules = append(tmpl.Rules, types.Rule{Text: r})
			}
			ot, err := a.Schema.AppendAttributes(cmd.Context(), args[0], tmpl)
			if err != nil {
				return err
			}
			return e.emit(cmd, ot, func(w io.Writer) {
				fmt.Fprintf(w, "Added %s.%s\n", ot.Key, tmpl.Key)
			})
		},
	}
	cmd.Flags().StringVar(&tmpl.Label, "label", "", "display label")
	cmd.Flags().BoolVar(&list, "list", false, "attribute holds a list of items")
	cmd.Flags().BoolVar(&tmpl.Required, "required", false, "attribute must not be empty")
	cmd.Flags().IntVar(&tmpl.MaxLength, "max-length", 0, "maximum characters (scalar)")
	cmd.Flags().IntVar(&tmpl.MaxItems, "max-items", 0, "maximum items (list)")
	cmd.Flags().IntVar(&tmpl.MaxItemLength, "max-item-length", 0, "maximum characters per item (list)")
	cmd.Flags().BoolVar(&tmpl.IncludeStoryTime, "story-time", false, "record story time with the value")
	cmd.Flags().BoolVar(&tmpl.IncludeAttitude, "attitude", false, "record attitude with the value")
	cmd.Flags().StringArrayVar(&rules, "rule", nil, "extraction rule text (repeatable)")
	return cmd
}
