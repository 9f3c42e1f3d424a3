package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/alertflow/internal/domain"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "cpu load high", Normalize("CPU  Load   High"))
	assert.Equal(t, "logical disk free space", Normalize("Logical Disk: Free-Space!"))
	assert.Equal(t, "open console", Normalize("Open controlup://focus/DEPROD01 console"))
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize("!!! ... ---"))
}

func TestSimilarityBounds(t *testing.T) {
	assert.Equal(t, 0.0, Similarity("", "anything"))
	assert.Equal(t, 1.0, Similarity("CPU Load High", "cpu load: HIGH"))

	score := Similarity("CPU load high on machine", "CPU load high")
	assert.Greater(t, score, 0.5)
	assert.Less(t, score, 1.0)

	unrelated := Similarity("CPU load high", "Backup job completed successfully")
	assert.Less(t, unrelated, MatchThreshold)
}

func TestSequenceRatio(t *testing.T) {
	assert.Equal(t, 1.0, sequenceRatio("abcd", "abcd"))
	assert.Equal(t, 0.0, sequenceRatio("abc", "xyz"))
	// classic difflib example
	assert.InDelta(t, 0.75, sequenceRatio("abcd", "bcde"), 0.01)
}

func newTestRouter(t *testing.T, mappings []domain.TriggerMapping) *Router {
	t.Helper()
	r := New(nil, filepath.Join(t.TempDir(), "unmatched.txt"))
	snapshot := make([]entry, 0, len(mappings))
	exact := make(map[string]int, len(mappings))
	for _, m := range mappings {
		norm := Normalize(m.TriggerName)
		snapshot = append(snapshot, entry{normalized: norm, mapping: m})
		if _, dup := exact[norm]; !dup {
			exact[norm] = len(snapshot) - 1
		}
	}
	r.snapshot = snapshot
	r.exact = exact
	return r
}

func TestMatchExact(t *testing.T) {
	r := newTestRouter(t, []domain.TriggerMapping{
		{TriggerName: "CPU load high", Team: "OI - IBS", ResponsiblePersons: "jane@example.com"},
		{TriggerName: "SAP instance down", Team: "SAP Basis"},
	})

	m := r.Match("CPU Load High")
	assert.Equal(t, "OI - IBS", m.Team)
	assert.Equal(t, 1.0, m.Score)
	require.NotNil(t, m.Mapping)
	assert.Equal(t, "jane@example.com", m.Mapping.ResponsiblePersons)
}

func TestMatchFuzzy(t *testing.T) {
	r := newTestRouter(t, []domain.TriggerMapping{
		{TriggerName: "Logical Disk free space low", Team: "OI - IBS"},
		{TriggerName: "SAP instance down", Team: "SAP Basis"},
	})

	m := r.Match("Logical Disk free space low on DEPROD01")
	assert.Equal(t, "OI - IBS", m.Team)
	assert.GreaterOrEqual(t, m.Score, MatchThreshold)
	assert.Equal(t, "Logical Disk free space low", m.MatchedTrigger)
}

func TestMatchBelowThresholdRoutesToGeneral(t *testing.T) {
	r := newTestRouter(t, []domain.TriggerMapping{
		{TriggerName: "SAP instance down", Team: "SAP Basis"},
	})

	m := r.Match("Printer toner empty in building 7")
	assert.Equal(t, GeneralTeam, m.Team)
	assert.Nil(t, m.Mapping)

	// unmatched triggers land in the review log
	data, err := os.ReadFile(r.unmatchedLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Printer toner empty in building 7")
}

func TestMatchEmptyTrigger(t *testing.T) {
	r := newTestRouter(t, []domain.TriggerMapping{
		{TriggerName: "SAP instance down", Team: "SAP Basis"},
	})

	m := r.Match("")
	assert.Equal(t, GeneralTeam, m.Team)
	assert.Equal(t, 0.0, m.Score)
}

func TestMatchCached(t *testing.T) {
	r := newTestRouter(t, []domain.TriggerMapping{
		{TriggerName: "CPU load high", Team: "OI - IBS"},
	})

	first := r.Match("CPU load high")
	// mutate the snapshot; the cache must still answer
	r.mu.Lock()
	r.snapshot = nil
	r.exact = map[string]int{}
	r.mu.Unlock()

	second := r.Match("cpu LOAD high")
	assert.Equal(t, first.Team, second.Team)
	assert.Equal(t, first.Score, second.Score)
}

func TestStaleMatchNotCachedAcrossReload(t *testing.T) {
	r := newTestRouter(t, []domain.TriggerMapping{
		{TriggerName: "CPU load high", Team: "OI - IBS"},
	})

	// compute a result against the current snapshot, then simulate a
	// reload landing before the result is stored
	r.mu.RLock()
	i := r.exact[Normalize("CPU load high")]
	e := r.snapshot[i]
	stale := Match{Team: e.mapping.Team, Score: 1, MatchedTrigger: e.mapping.TriggerName, Mapping: &e.mapping}
	gen := r.gen
	r.mu.RUnlock()

	r.mu.Lock()
	r.cache = map[string]Match{}
	r.gen++
	r.mu.Unlock()

	r.cacheMatch(Normalize("CPU load high"), stale, gen)

	r.mu.RLock()
	assert.Empty(t, r.cache)
	r.mu.RUnlock()

	// stores against the live generation still land
	r.mu.RLock()
	gen = r.gen
	r.mu.RUnlock()
	r.cacheMatch(Normalize("CPU load high"), stale, gen)
	r.mu.RLock()
	assert.Len(t, r.cache, 1)
	r.mu.RUnlock()
}

func TestExtractInfrastructure(t *testing.T) {
	assert.Equal(t, "OI-IBS Infrastructure", ExtractInfrastructure("OI-IBS Memory Alert"))
	assert.Equal(t, "OI-IBS Infrastructure", ExtractInfrastructure("OI IBS Memory Alert"))
	assert.Equal(t, "Citrix Infrastructure", ExtractInfrastructure("CITRIX PVS Service up"))
	assert.Equal(t, "ACC Technical", ExtractInfrastructure("ACC queue stalled"))
	assert.Equal(t, "", ExtractInfrastructure("Unknown Alert"))
	assert.Equal(t, "", ExtractInfrastructure(""))
}

func TestExtractMachineName(t *testing.T) {
	// resource name wins and is cleaned up
	assert.Equal(t, "DEPROD01", ExtractMachineName("deprod01.bitzer.local", "", ""))
	assert.Equal(t, "SVC", ExtractMachineName("svc@example.com", "", ""))

	// subject patterns
	assert.Equal(t, "DEROT02010", ExtractMachineName("", "Alert: Machine DEROT02010.bitzer unreachable", ""))
	assert.Equal(t, "DESDN01057", ExtractMachineName("", "High CPU on DESDN01057 (production)", ""))

	// body fallback
	assert.Equal(t, "DESDN04199", ExtractMachineName("", "no names here", "Computer DESDN04199.bitzer restarted"))

	assert.Equal(t, "", ExtractMachineName("", "nothing to see", "nothing here either"))
}
