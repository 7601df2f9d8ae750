package nodes

import statex "github.com/dukalink/dukalink/agent/state"

// Policy holds the deterministic routing rules applied on top of the
// model's decision. All heuristics live here so tuning them never means
// hunting through prompt text.
type Policy struct {
	// ConfidenceThreshold gates specialist dispatch: a route decision at
	// or below it is demoted to a clarifying chat turn.
	ConfidenceThreshold float64

	// DirectAfterTurns marks a conversation as stalling once it has both
	// a known product type and this many turns behind it. Chat replies
	// after that point steer toward the catalog instead of asking yet
	// another open question; dispatch itself stays behind the gate.
	DirectAfterTurns int
}

// DefaultPolicy mirrors production tuning.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceThreshold: 0.75,
		DirectAfterTurns:    3,
	}
}

func (p Policy) normalized() Policy {
	if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold >= 1 {
		p.ConfidenceThreshold = 0.75
	}
	if p.DirectAfterTurns <= 0 {
		p.DirectAfterTurns = 3
	}
	return p
}

// nudgeDirect reports whether chat replies should steer to the catalog.
func (p Policy) nudgeDirect(st *statex.ConversationState) bool {
	return st != nil &&
		st.TurnIndex > p.DirectAfterTurns &&
		st.Context.Has(statex.SlotProductType)
}
