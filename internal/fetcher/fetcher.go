// Package fetcher selects the next slice of a conversation to analyze. A
// batch is closed once the messages before the trailing carryover window
// reach a token budget; the trailing window rides along as context and is
// never extracted itself.
package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/memorykit/internal/gateway"
	"github.com/mesh-intelligence/memorykit/internal/logging"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// Defaults for GetBatchByTokens callers.
const (
	DefaultMinTokens   = 1000
	DefaultCarryoverK  = 5
	DefaultConcurrency = 4
)

// Gateway is the part of the chat gateway the fetcher uses.
type Gateway interface {
	Chat(ctx context.Context) (gateway.Chat, error)
	TokenCount(ctx context.Context, text string) (int, error)
}

// Boundary describes how a batch was found.
type Boundary struct {
	From         int `json:"from"`
	To           int `json:"to"`
	TotalTokens  int `json:"totalTokens"`
	MessageCount int `json:"messageCount"`
}

// Batch is a contiguous slice [From, To) of the active chat.
type Batch struct {
	ChatID            string            `json:"chatId"`
	From              int               `json:"from"`
	To                int               `json:"to"`
	Carryover         int               `json:"carryover"`
	Messages          []gateway.Message `json:"messages"`
	NewMessages       []gateway.Message `json:"newMessages"`
	CarryoverMessages []gateway.Message `json:"carryoverMessages"`
	Text              string            `json:"text"`
	TokenCount        int               `json:"tokenCount"`
	IsEmpty           bool              `json:"isEmpty"`
	Boundary          *Boundary         `json:"boundary,omitempty"`
}

// Fetcher computes batches over a Gateway.
type Fetcher struct {
	gw          Gateway
	concurrency int
	timing      bool
	logger      *logging.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithConcurrency bounds the number of concurrent token count calls.
// Values below one mean sequential counting.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n < 1 {
			n = 1
		}
		f.concurrency = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(f *Fetcher) { f.logger = logging.OrNop(l).With("component", "fetcher") }
}

// WithTiming logs the duration of every boundary search.
func WithTiming(on bool) Option {
	return func(f *Fetcher) { f.timing = on }
}

// New creates a Fetcher.
func New(gw Gateway, opts ...Option) *Fetcher {
	f := &Fetcher{gw: gw, concurrency: DefaultConcurrency, logger: logging.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// activeChat returns the messages of chatID, which must be the active chat.
func (f *Fetcher) activeChat(ctx context.Context, chatID string) ([]gateway.Message, error) {
	chat, err := f.gw.Chat(ctx)
	if err != nil {
		return nil, err
	}
	if chat.ID != chatID {
		return nil, fmt.Errorf("chat %q: %w", chatID, types.ErrChatNotFound)
	}
	return chat.Current, nil
}

// GetBatchByTokens scans backward from the message just before the last
// carryoverK messages, summing per-message token counts until the sum
// reaches minTokens. The crossing index (or 0) is From and
// To = min(len, From+len-carryoverK). The last carryoverK messages of
// [From, To) are the carryover, the same slice GetCarryoverContext returns
// for To; the rest are new.
func (f *Fetcher) GetBatchByTokens(ctx context.Context, chatID string, minTokens, carryoverK int) (*Batch, error) {
	if minTokens < 0 || carryoverK < 0 {
		return nil, fmt.Errorf("minTokens %d, carryoverK %d: %w", minTokens, carryoverK, types.ErrInvalidRange)
	}
	msgs, err := f.activeChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	n := len(msgs)
	if n == 0 {
		return emptyBatch(chatID, 0), nil
	}

	started := time.Now()
	from, total, err := f.findFrom(ctx, msgs, minTokens, carryoverK)
	if err != nil {
		return nil, err
	}
	to := max(from, min(n, from+(n-carryoverK)))
	carryStart := max(from, to-carryoverK)

	b := &Batch{
		ChatID:            chatID,
		From:              from,
		To:                to,
		Carryover:         to - carryStart,
		Messages:          msgs[from:to],
		NewMessages:       msgs[from:carryStart],
		CarryoverMessages: msgs[carryStart:to],
		Boundary:          &Boundary{From: from, To: to, TotalTokens: total, MessageCount: to - from},
	}
	if err := f.fill(ctx, b); err != nil {
		return nil, err
	}
	if f.timing {
		f.logger.Info("batch boundary found",
			"chat", chatID, "from", from, "to", to, "tokens", total, "elapsed", time.Since(started))
	}
	return b, nil
}

// findFrom runs the backward scan. Token counts are requested in windows
// of f.concurrency messages; the running sum is evaluated in descending
// index order once a window completes, so the result matches a sequential
// scan.
func (f *Fetcher) findFrom(ctx context.Context, msgs []gateway.Message, minTokens, carryoverK int) (from, total int, err error) {
	start := len(msgs) - 1 - carryoverK
	for hi := start; hi >= 0; hi -= f.concurrency {
		lo := max(0, hi-f.concurrency+1)
		counts := make([]int, hi-lo+1)

		g, gctx := errgroup.WithContext(ctx)
		for i := lo; i <= hi; i++ {
			g.Go(func() error {
				c, err := f.gw.TokenCount(gctx, msgs[i].Text)
				if err != nil {
					return err
				}
				counts[i-lo] = c
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return 0, 0, err
		}

		for i := hi; i >= lo; i-- {
			total += counts[i-lo]
			if total >= minTokens {
				return i, total, nil
			}
		}
	}
	return 0, total, nil
}

// GetBatchByFloors returns messages [fromFloor, toFloor) without a token
// search. Floors are clamped to the chat length; fromFloor must not exceed
// toFloor.
func (f *Fetcher) GetBatchByFloors(ctx context.Context, chatID string, fromFloor, toFloor int) (*Batch, error) {
	if fromFloor > toFloor {
		return nil, fmt.Errorf("floors [%d, %d): %w", fromFloor, toFloor, types.ErrInvalidRange)
	}
	msgs, err := f.activeChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	from, to := clamp(fromFloor, len(msgs)), clamp(toFloor, len(msgs))
	b := &Batch{
		ChatID:            chatID,
		From:              from,
		To:                to,
		Messages:          msgs[from:to],
		NewMessages:       msgs[from:to],
		CarryoverMessages: []gateway.Message{},
	}
	if err := f.fill(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GetCarryoverContext returns the carryoverK messages ending at batchEnd.
func (f *Fetcher) GetCarryoverContext(ctx context.Context, chatID string, batchEnd, carryoverK int) (*Batch, error) {
	if carryoverK < 0 {
		return nil, fmt.Errorf("carryoverK %d: %w", carryoverK, types.ErrInvalidRange)
	}
	msgs, err := f.activeChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	to := clamp(batchEnd, len(msgs))
	from := max(0, to-carryoverK)
	b := &Batch{
		ChatID:            chatID,
		From:              from,
		To:                to,
		Carryover:         to - from,
		Messages:          msgs[from:to],
		NewMessages:       []gateway.Message{},
		CarryoverMessages: msgs[from:to],
	}
	if err := f.fill(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// fill sets Text, TokenCount and IsEmpty. An empty range never calls the
// tokenizer.
func (f *Fetcher) fill(ctx context.Context, b *Batch) error {
	if len(b.Messages) == 0 {
		b.IsEmpty = true
		b.Messages = []gateway.Message{}
		return nil
	}
	b.Text = JoinText(b.Messages)
	n, err := f.gw.TokenCount(ctx, b.Text)
	if err != nil {
		return err
	}
	b.TokenCount = n
	return nil
}

// JoinText joins the non-empty message texts with newlines.
func JoinText(msgs []gateway.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func emptyBatch(chatID string, at int) *Batch {
	return &Batch{
		ChatID:            chatID,
		From:              at,
		To:                at,
		Messages:          []gateway.Message{},
		NewMessages:       []gateway.Message{},
		CarryoverMessages: []gateway.Message{},
		IsEmpty:           true,
	}
}

func clamp(v, n int) int {
	return min(max(v, 0), n)
}
