// Package discovery proposes, at most once ever, candidate thread
// groupings over unthreaded reflections. The offer is one-shot: once
// the user dismisses suggestions they never come back, no matter how
// many reflections accumulate afterwards.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kittclouds/sovereign/internal/store"
)

// dismissalKey is the persisted one-shot flag.
const dismissalKey = "thread_suggestions_dismissed"

// Strategy names the clustering that produced a suggestion.
type Strategy string

const (
	StrategyIdentityAxis Strategy = "identity-axis"
	StrategySameDay      Strategy = "same-day"
	StrategyLongForm     Strategy = "long-form"
)

// Suggestion is one candidate thread grouping.
type Suggestion struct {
	Title      string
	Strategy   Strategy
	MemberIDs  []string // ordered by member creation time
	Confidence float64  // in [0,1], larger groups score higher
}

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	// MinReflections is the minimum number of unthreaded reflections
	// before any suggestion is computed.
	MinReflections int

	// MaxSuggestions caps how many suggestions Suggest returns.
	MaxSuggestions int

	// LongContentThreshold is the content length, in runes, above which
	// a reflection counts as long-form.
	LongContentThreshold int
}

func (o Options) withDefaults() Options {
	if o.MinReflections <= 0 {
		o.MinReflections = 5
	}
	if o.MaxSuggestions <= 0 {
		o.MaxSuggestions = 3
	}
	if o.LongContentThreshold <= 0 {
		o.LongContentThreshold = 280
	}
	return o
}

// minGroupSize is the smallest cluster worth suggesting.
const minGroupSize = 3

// fullConfidenceSize is the group size at which confidence saturates.
const fullConfidenceSize = 6

// Engine computes thread suggestions over the store's unthreaded
// reflections.
type Engine struct {
	store *store.Store
	opts  Options
	log   *zap.Logger
}

// NewEngine creates a discovery engine.
func NewEngine(s *store.Store, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: s, opts: opts.withDefaults(), log: log}
}

// ShouldSuggest reports whether suggestions may be computed at all:
// never after dismissal, and only once enough unthreaded reflections
// exist.
func (e *Engine) ShouldSuggest(ctx context.Context) (bool, error) {
	dismissed, err := e.store.GetMeta(ctx, dismissalKey)
	if err != nil {
		return false, fmt.Errorf("should suggest: %w", err)
	}
	if dismissed != "" {
		return false, nil
	}

	unthreaded, err := e.store.GetUnthreadedReflections(ctx)
	if err != nil {
		return false, fmt.Errorf("should suggest: %w", err)
	}
	return len(unthreaded) >= e.opts.MinReflections, nil
}

// Suggest computes the top candidate groupings by confidence. Returns
// nil when ShouldSuggest is false.
func (e *Engine) Suggest(ctx context.Context) ([]Suggestion, error) {
	ok, err := e.ShouldSuggest(ctx)
	if err != nil || !ok {
		return nil, err
	}

	unthreaded, err := e.store.GetUnthreadedReflections(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest: %w", err)
	}

	var candidates []Suggestion
	candidates = append(candidates, e.byIdentityAxis(ctx, unthreaded)...)
	candidates = append(candidates, byCalendarDay(unthreaded)...)
	candidates = append(candidates, e.byLongForm(unthreaded)...)

	// Sorting key: confidence descending, then earliest-created member.
	created := make(map[string]time.Time, len(unthreaded))
	for _, r := range unthreaded {
		created[r.ID] = r.CreatedAt
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return created[candidates[i].MemberIDs[0]].Before(created[candidates[j].MemberIDs[0]])
	})

	if len(candidates) > e.opts.MaxSuggestions {
		candidates = candidates[:e.opts.MaxSuggestions]
	}
	e.log.Debug("computed thread suggestions", zap.Int("count", len(candidates)))
	return candidates, nil
}

// Dismiss permanently turns suggestions off. There is no user-facing
// undo.
func (e *Engine) Dismiss(ctx context.Context) error {
	if err := e.store.SetMeta(ctx, dismissalKey, "1"); err != nil {
		return fmt.Errorf("dismiss suggestions: %w", err)
	}
	e.log.Info("thread suggestions dismissed")
	return nil
}

// ResetDismissalForTesting clears the dismissal flag. Test hook only.
func (e *Engine) ResetDismissalForTesting(ctx context.Context) error {
	return e.store.DeleteMeta(ctx, dismissalKey)
}

// Accept turns a suggestion into a real thread through the normal
// storage path and returns the new thread's id.
func (e *Engine) Accept(ctx context.Context, sug Suggestion) (string, error) {
	th := store.Thread{
		ID:        uuid.NewString(),
		Title:     sug.Title,
		MemberIDs: sug.MemberIDs,
	}
	if err := e.store.AddThread(ctx, th); err != nil {
		return "", fmt.Errorf("accept suggestion: %w", err)
	}
	return th.ID, nil
}

// byIdentityAxis groups by shared identity-axis reference.
func (e *Engine) byIdentityAxis(ctx context.Context, unthreaded []store.Reflection) []Suggestion {
	groups := make(map[string][]store.Reflection)
	for _, r := range unthreaded {
		if r.IdentityAxisID != "" {
			groups[r.IdentityAxisID] = append(groups[r.IdentityAxisID], r)
		}
	}

	var out []Suggestion
	for axisID, members := range groups {
		if len(members) < minGroupSize {
			continue
		}
		title := "Around one identity axis"
		if ax, err := e.store.GetIdentityAxis(ctx, axisID); err == nil {
			title = "Around " + ax.Label
		}
		out = append(out, newSuggestion(title, StrategyIdentityAxis, members))
	}
	return out
}

// byCalendarDay groups by same UTC calendar day of creation.
func byCalendarDay(unthreaded []store.Reflection) []Suggestion {
	groups := make(map[string][]store.Reflection)
	for _, r := range unthreaded {
		day := r.CreatedAt.UTC().Format("2006-01-02")
		groups[day] = append(groups[day], r)
	}

	var out []Suggestion
	for day, members := range groups {
		if len(members) < minGroupSize {
			continue
		}
		out = append(out, newSuggestion("Written on "+day, StrategySameDay, members))
	}
	return out
}

// byLongForm yields a single group of all long reflections.
func (e *Engine) byLongForm(unthreaded []store.Reflection) []Suggestion {
	var members []store.Reflection
	for _, r := range unthreaded {
		if len([]rune(r.Content)) > e.opts.LongContentThreshold {
			members = append(members, r)
		}
	}
	if len(members) < minGroupSize {
		return nil
	}
	return []Suggestion{newSuggestion("Longer reflections", StrategyLongForm, members)}
}

// newSuggestion orders members by creation time and scores the group.
// Confidence grows with size and saturates at 1.0.
func newSuggestion(title string, strategy Strategy, members []store.Reflection) Suggestion {
	sort.Slice(members, func(i, j int) bool {
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		}
		return members[i].ID < members[j].ID
	})
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	confidence := float64(len(members)) / fullConfidenceSize
	if confidence > 1.0 {
		confidence = 1.0
	}
	return Suggestion{Title: title, Strategy: strategy, MemberIDs: ids, Confidence: confidence}
}
