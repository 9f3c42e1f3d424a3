package router

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ignite/alertflow/internal/domain"
	"github.com/ignite/alertflow/internal/store"
)

// MatchThreshold is the minimum combined similarity for a trigger to be
// routed to a specific team instead of General.
const MatchThreshold = 0.75

// shortCircuitScore stops the scan early on a near-certain match.
const shortCircuitScore = 0.9

// GeneralTeam is the fallback destination for unmatched triggers.
const GeneralTeam = "General"

// Match is the routing decision for one trigger name.
type Match struct {
	Team           string
	Score          float64
	MatchedTrigger string
	Mapping        *domain.TriggerMapping // nil when routed to General
}

type entry struct {
	normalized string
	mapping    domain.TriggerMapping
}

// Router resolves trigger names to owning teams by fuzzy matching
// against the trigger-mapping reference table. The reference set is an
// immutable snapshot swapped on Reload; match results are cached per
// normalized input until the next reload.
type Router struct {
	triggers     *store.TriggerMappingRepo
	unmatchedLog string

	mu       sync.RWMutex
	snapshot []entry
	exact    map[string]int // normalized trigger -> snapshot index
	cache    map[string]Match
	gen      uint64 // bumped on every Reload; guards cache writes
}

// New builds a router over the trigger-mapping table. Call Reload
// before the first Match.
func New(triggers *store.TriggerMappingRepo, unmatchedLog string) *Router {
	return &Router{
		triggers:     triggers,
		unmatchedLog: unmatchedLog,
		exact:        map[string]int{},
		cache:        map[string]Match{},
	}
}

// Reload replaces the matching snapshot from the database and clears
// the match cache.
func (r *Router) Reload(ctx context.Context) error {
	mappings, err := r.triggers.All(ctx)
	if err != nil {
		return fmt.Errorf("reload trigger mappings: %w", err)
	}
	snapshot := make([]entry, 0, len(mappings))
	exact := make(map[string]int, len(mappings))
	for _, m := range mappings {
		norm := Normalize(m.TriggerName)
		if norm == "" {
			continue
		}
		snapshot = append(snapshot, entry{normalized: norm, mapping: m})
		if _, dup := exact[norm]; !dup {
			exact[norm] = len(snapshot) - 1
		}
	}

	r.mu.Lock()
	r.snapshot = snapshot
	r.exact = exact
	r.cache = map[string]Match{}
	r.gen++
	r.mu.Unlock()

	log.Printf("[Router] loaded %d trigger mappings", len(snapshot))
	return nil
}

// Match resolves the owning team for a trigger name. Triggers scoring
// under the threshold route to General and are appended to the
// unmatched-trigger log.
func (r *Router) Match(trigger string) Match {
	if trigger == "" {
		return Match{Team: GeneralTeam}
	}
	key := Normalize(trigger)

	r.mu.RLock()
	if m, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return m
	}
	if len(r.snapshot) == 0 {
		r.mu.RUnlock()
		log.Printf("[Router] no trigger mappings loaded, routing to %s", GeneralTeam)
		return Match{Team: GeneralTeam}
	}

	var result Match
	if i, ok := r.exact[key]; ok {
		e := r.snapshot[i]
		result = Match{Team: e.mapping.Team, Score: 1, MatchedTrigger: e.mapping.TriggerName, Mapping: &e.mapping}
	} else {
		result = r.scan(trigger)
	}
	gen := r.gen
	r.mu.RUnlock()

	r.cacheMatch(key, result, gen)

	if result.Team == GeneralTeam {
		r.logUnmatched(trigger)
	}
	return result
}

// cacheMatch stores a result computed against snapshot generation gen.
// A Reload between the compute and the store bumps the generation, and
// the stale result is discarded instead of poisoning the fresh cache.
func (r *Router) cacheMatch(key string, m Match, gen uint64) {
	r.mu.Lock()
	if r.gen == gen {
		r.cache[key] = m
	}
	r.mu.Unlock()
}

// scan walks the snapshot under the caller's read lock.
func (r *Router) scan(trigger string) Match {
	best := Match{Team: GeneralTeam}
	for i := range r.snapshot {
		e := &r.snapshot[i]
		score := Similarity(trigger, e.mapping.TriggerName)
		if score >= shortCircuitScore {
			return Match{Team: e.mapping.Team, Score: score, MatchedTrigger: e.mapping.TriggerName, Mapping: &e.mapping}
		}
		if score > best.Score {
			best.Score = score
			best.MatchedTrigger = e.mapping.TriggerName
			best.Mapping = &e.mapping
			best.Team = e.mapping.Team
		}
	}
	if best.Score < MatchThreshold {
		best.Team = GeneralTeam
		best.Mapping = nil
	}
	return best
}

// logUnmatched appends a trigger routed to General to the review log.
// Failures are logged and swallowed; routing must not depend on it.
func (r *Router) logUnmatched(trigger string) {
	if r.unmatchedLog == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.unmatchedLog), 0755); err != nil {
		log.Printf("[Router] unmatched log dir: %v", err)
		return
	}
	f, err := os.OpenFile(r.unmatchedLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("[Router] unmatched log open: %v", err)
		return
	}
	defer f.Close()
	line := fmt.Sprintf("Trigger: %s | Incident Timestamp: %s\n",
		trigger, time.Now().Format("2006-01-02 15:04"))
	if _, err := f.WriteString(line); err != nil {
		log.Printf("[Router] unmatched log write: %v", err)
	}
}
