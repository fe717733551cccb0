// Package retrieval handles the two requests the chat application sends:
// ingesting a message for extraction and querying stored facts as context
// hints.
package retrieval

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mesh-intelligence/memorykit/internal/extract"
	"github.com/mesh-intelligence/memorykit/internal/gateway"
	"github.com/mesh-intelligence/memorykit/internal/logging"
	"github.com/mesh-intelligence/memorykit/internal/timestamp"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// Query defaults.
const (
	DefaultLimit    = 10
	DefaultMaxChars = 2000
)

// Scope selects whose facts a request reads or writes.
type Scope struct {
	CharacterID string `json:"characterId,omitempty"`
	Global      bool   `json:"global,omitempty"`
}

// toTypes maps a request scope to an instance scope. Requests without a
// character are global.
func (s Scope) toTypes() types.Scope {
	if s.Global || s.CharacterID == "" {
		return types.GlobalScope()
	}
	return types.CharacterScope(s.CharacterID)
}

// IngestMeta carries the optional message reference and time.
type IngestMeta struct {
	MessageID string `json:"messageId,omitempty"`
	TS        int64  `json:"ts,omitempty"` // epoch milliseconds
}

// IngestRequest asks for one message to be extracted.
type IngestRequest struct {
	Scope Scope       `json:"scope"`
	Text  string      `json:"text"`
	Meta  *IngestMeta `json:"meta,omitempty"`
}

// QueryRequest asks for facts matching a query.
type QueryRequest struct {
	Scope    Scope  `json:"scope"`
	Query    string `json:"query"`
	Limit    int    `json:"limit,omitempty"`
	MaxChars int    `json:"maxChars,omitempty"`
}

// Source identifies one instance in a response and its score.
type Source struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// QueryResponse groups the matching records by object type key.
type QueryResponse struct {
	Hint        map[string][]map[string]any `json:"hint"`
	ApproxChars int                         `json:"approxChars"`
	Sources     []Source                    `json:"sources"`
}

// Extractor runs extraction passes.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) (*extract.Result, error)
}

// Store reads instances and their values.
type Store interface {
	GetAllObjectTypes(ctx context.Context) ([]*types.ObjectType, error)
	GetAllInstances(ctx context.Context) ([]*types.Instance, error)
	GetValuesByInstance(ctx context.Context, instanceID string) ([]*types.Value, error)
}

// Modes supplies the time ordering mode.
type Modes interface {
	TimeMode(ctx context.Context) (string, error)
}

// Service answers ingest and query requests.
type Service struct {
	extractor Extractor
	store     Store
	modes     Modes
	logger    *logging.Logger
}

// New creates a Service.
func New(extractor Extractor, store Store, modes Modes, logger *logging.Logger) *Service {
	return &Service{
		extractor: extractor,
		store:     store,
		modes:     modes,
		logger:    logging.OrNop(logger).With("component", "retrieval"),
	}
}

// Ingest runs extraction over a single message. The resulting diffs are
// left PENDING for review.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*extract.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("ingest text must not be empty: %w", types.ErrValidation)
	}
	er := extract.Request{
		Scope:    req.Scope.toTypes(),
		Messages: []gateway.Message{{Text: req.Text}},
		From:     0,
		To:       1,
	}
	if req.Meta != nil {
		er.ChatID = req.Meta.MessageID
		if req.Meta.TS > 0 {
			er.At = time.UnixMilli(req.Meta.TS).UTC()
		}
	}
	res, err := s.extractor.Extract(ctx, er)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("ingested", "diffs", len(res.Diffs), "dropped", len(res.Dropped))
	return res, nil
}

type candidate struct {
	instance *types.Instance
	typeKey  string
	values   []*types.Value
	score    float64
	latest   types.Timestamp
}

// Query scores the visible instances against the query terms and returns
// the best records within the limit and character budget. Only CONFIRMED
// values are returned. Ties on score go to the most recent fact under the
// configured time mode.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	maxChars := req.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	mode, err := s.modes.TimeMode(ctx)
	if err != nil {
		return nil, err
	}
	objectTypes, err := s.store.GetAllObjectTypes(ctx)
	if err != nil {
		return nil, err
	}
	typeKeys := make(map[string]string, len(objectTypes))
	for _, ot := range objectTypes {
		typeKeys[ot.ID] = ot.Key
	}
	instances, err := s.store.GetAllInstances(ctx)
	if err != nil {
		return nil, err
	}

	characterID := ""
	if !req.Scope.Global {
		characterID = req.Scope.CharacterID
	}
	terms := strings.Fields(strings.ToLower(req.Query))

	var cands []candidate
	for _, in := range instances {
		if !in.Scope.Matches(characterID) {
			continue
		}
		vals, err := s.store.GetValuesByInstance(ctx, in.ID)
		if err != nil {
			return nil, err
		}
		c := candidate{instance: in, typeKey: typeKeys[in.TypeID]}
		for _, v := range vals {
			if v.Status != types.ValueStatusConfirmed {
				continue
			}
			if len(c.values) == 0 || timestamp.Compare(mode, v.Timestamp, c.latest) > 0 {
				c.latest = v.Timestamp
			}
			c.values = append(c.values, v)
		}
		if len(c.values) == 0 {
			continue
		}
		c.score = Score(terms, searchText(in, c.values))
		if c.score == 0 {
			continue
		}
		cands = append(cands, c)
	}

	slices.SortStableFunc(cands, func(a, b candidate) int {
		if a.score != b.score {
			return cmp.Compare(b.score, a.score)
		}
		if c := timestamp.Compare(mode, b.latest, a.latest); c != 0 {
			return c
		}
		return cmp.Compare(a.instance.Key, b.instance.Key)
	})

	resp := &QueryResponse{Hint: map[string][]map[string]any{}, Sources: []Source{}}
	for _, c := range cands {
		if len(resp.Sources) == limit {
			break
		}
		rec := record(c)
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		n := utf8.RuneCount(b)
		if resp.ApproxChars+n > maxChars {
			break
		}
		resp.ApproxChars += n
		resp.Hint[c.typeKey] = append(resp.Hint[c.typeKey], rec)
		resp.Sources = append(resp.Sources, Source{ID: c.instance.ID, Score: c.score})
	}
	return resp, nil
}

// Score is the share of terms found in text. No terms scores 1.
func Score(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 1
	}
	text = strings.ToLower(text)
	hits := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func searchText(in *types.Instance, vals []*types.Value) string {
	parts := []string{in.Key, in.Name}
	for _, v := range vals {
		parts = append(parts, v.Render())
	}
	return strings.Join(parts, "\n")
}

// record flattens an instance and its values. Lists stay lists.
func record(c candidate) map[string]any {
	rec := map[string]any{"id": c.instance.ID, "key": c.instance.Key}
	if c.instance.Name != "" {
		rec["name"] = c.instance.Name
	}
	for _, v := range c.values {
		if v.Kind == types.ValueKindList {
			rec[v.AttributeKey] = v.Items
		} else {
			rec[v.AttributeKey] = v.Text
		}
		if v.Timestamp.StoryTime != nil && v.Timestamp.StoryTime.Timestamp != "" {
			rec[v.AttributeKey+"StoryTime"] = v.Timestamp.StoryTime.Timestamp
		}
	}
	return rec
}
