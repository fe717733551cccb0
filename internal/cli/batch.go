package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/memorykit/internal/app"
	"github.com/mesh-intelligence/memorykit/internal/extract"
	"github.com/mesh-intelligence/memorykit/internal/fetcher"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// batchFlags select the messages a batch or extract run works on.
type batchFlags struct {
	transcript string
	chatID     string
	minTokens  int
	carryoverK int
	from, to   int
}

func (f *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.transcript, "transcript", "", "chat transcript JSON file (default: transcript from config)")
	cmd.Flags().StringVar(&f.chatID, "chat", "", "chat id (default: the transcript's id)")
	cmd.Flags().IntVar(&f.minTokens, "min-tokens", 0, "token threshold for the batch (default: fetcher.min_tokens)")
	cmd.Flags().IntVar(&f.carryoverK, "carryover", -1, "messages carried as context (default: fetcher.carryover_k)")
	cmd.Flags().IntVar(&f.from, "from", 0, "first floor, inclusive (with --to selects by floors)")
	cmd.Flags().IntVar(&f.to, "to", 0, "last floor, exclusive")
}

func (f *batchFlags) adjust(cfg *app.Config) {
	if f.transcript != "" {
		cfg.Transcript = f.transcript
	}
}

// fetch runs the fetcher selected by the flags.
func (f *batchFlags) fetch(cmd *cobra.Command, a *app.App) (*fetcher.Batch, error) {
	ctx := cmd.Context()
	chatID := f.chatID
	if chatID == "" {
		chat, err := a.Bridge.Chat(ctx)
		if err != nil {
			return nil, err
		}
		chatID = chat.ID
	}
	if cmd.Flags().Changed("from") || cmd.Flags().Changed("to") {
		return a.Fetcher.GetBatchByFloors(ctx, chatID, f.from, f.to)
	}
	if f.minTokens < 0 {
		return nil, fmt.Errorf("min-tokens %d: %w", f.minTokens, types.ErrInvalidRange)
	}
	return a.Batch(ctx, chatID, f.minTokens, f.carryoverK)
}

func (e *env) newBatchCmd() *cobra.Command {
	var bf batchFlags
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Select the next batch of messages by token count",
		Long: "batch walks the chat backwards from its end, counting tokens until the\n" +
			"threshold is met, and prints the selected range with its carryover tail.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.openApp(cmd, bf.adjust)
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := bf.fetch(cmd, a)
			if err != nil {
				return err
			}
			return e.emit(cmd, b, func(w io.Writer) {
				fmt.Fprintf(w, "chat %s: floors [%d, %d), %d tokens, %d new, %d carryover\n",
					b.ChatID, b.From, b.To, b.TokenCount, len(b.NewMessages), len(b.CarryoverMessages))
				for i, m := range b.Messages {
					marker := " "
					if i >= len(b.NewMessages) {
						marker = "~"
					}
					fmt.Fprintf(w, "%s %4d  %s\n", marker, b.From+i, truncateText(m.Text, 72))
				}
			})
		},
	}
	bf.register(cmd)
	return cmd
}

func (e *env) newExtractCmd() *cobra.Command {
	var (
		bf        batchFlags
		character string
		profile   string
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract facts from the next batch into pending diffs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.openApp(cmd, bf.adjust)
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := bf.fetch(cmd, a)
			if err != nil {
				return err
			}
			scope := types.GlobalScope()
			if character != "" {
				scope = types.CharacterScope(character)
			}
			req := extract.RequestFromBatch(b, scope)
			req.Profile = profile
			res, err := a.Extractor.Extract(cmd.Context(), req)
			if err != nil {
				return err
			}
			return e.emit(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "profile %s: %d objects, %d diffs, %d new instances, %d dropped\n",
					res.Profile, res.Objects, len(res.Diffs), len(res.CreatedInstances), len(res.Dropped))
				for _, d := range res.Diffs {
					fmt.Fprintf(w, "  diff %s  instance %s  %d changes\n", d.ID, d.InstanceID, len(d.Changes))
				}
				for _, d := range res.Dropped {
					fmt.Fprintf(w, "  dropped %s %s %s: %s\n", d.Type, d.Name, d.Attribute, d.Reason)
				}
			})
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&character, "character", "", "scope new instances to this character (default: global)")
	cmd.Flags().StringVar(&profile, "profile", "", "analysis profile (default: defaultAnalysisProfile setting)")
	return cmd
}
