package tracker

import (
	"github.com/ethereum-optimism/infra/op-witness/reporting"
	"github.com/ethereum-optimism/infra/op-witness/types"
)

// Phase is a test identity's position in its lifecycle.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseRunning
	PhaseRetryPending
	PhasePassed
	PhaseFailed
	PhaseSkipped
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseRunning:
		return "running"
	case PhaseRetryPending:
		return "retry_pending"
	case PhasePassed:
		return "passed"
	case PhaseFailed:
		return "failed"
	case PhaseSkipped:
		return "skipped"
	}
	return "unknown"
}

// Terminal reports whether the phase carries a final verdict.
func (p Phase) Terminal() bool {
	return p == PhasePassed || p == PhaseFailed || p == PhaseSkipped
}

// testState is everything tracked for one identity.
type testState struct {
	id          types.TestIdentity
	displayName string
	phase       Phase
	completed   bool
	lastOutcome types.TestStatus
	lastCause   string
	entry       *reporting.Entry
	verdict     *types.TestVerdict
	// earlyVideo is the artifact of a recording whose process exited
	// before this test reached its final outcome.
	earlyVideo string
}

// stateTable holds per-identity state in first-start order. It is not
// synchronized; the tracker's lock guards it.
type stateTable struct {
	order  []types.TestIdentity
	states map[types.TestIdentity]*testState
}

func newStateTable() *stateTable {
	return &stateTable{states: make(map[types.TestIdentity]*testState)}
}

func (t *stateTable) get(id types.TestIdentity) (*testState, bool) {
	st, ok := t.states[id]
	return st, ok
}

func (t *stateTable) getOrCreate(id types.TestIdentity) *testState {
	if st, ok := t.states[id]; ok {
		return st
	}
	st := &testState{id: id, displayName: id.DisplayName(), phase: PhaseNotStarted}
	t.states[id] = st
	t.order = append(t.order, id)
	return st
}

// pending returns identities that started but have no verdict.
func (t *stateTable) pending() []*testState {
	var out []*testState
	for _, id := range t.order {
		st := t.states[id]
		if st.phase != PhaseNotStarted && !st.phase.Terminal() {
			out = append(out, st)
		}
	}
	return out
}

// verdicts returns a copy of every recorded verdict in first-start order.
func (t *stateTable) verdicts() []types.TestVerdict {
	out := make([]types.TestVerdict, 0, len(t.order))
	for _, id := range t.order {
		if v := t.states[id].verdict; v != nil {
			out = append(out, *v)
		}
	}
	return out
}
