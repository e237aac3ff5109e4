// Package persona implements the ten-parameter persona vector that
// shapes the system prompt's tone instructions, and the change-ledger
// that records every mutation. Grounded on the original source's
// persona handling (src-tauri/src/commands/ai.rs, database/schema.rs
// persona_settings table) and restyled after this repo's other
// Store-pair packages (graph.Store, episodic.Store): an in-memory
// backend for tests/single-user operation and a Postgres backend via
// pgx/v5, matching every other relational component here.
package persona

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Parameters is the ten-integer persona vector, each in [0,100].
// Field order matches the spec's naming and the original source's
// default vector {50,50,30,20,60,50,40,50,70,40}.
type Parameters struct {
	Formality    int
	Enthusiasm   int
	Humor        int
	Directness   int
	Empathy      int
	Detail       int
	Proactivity  int
	Playfulness  int
	Confidence   int
	Questioning  int
}

// Default returns the original source's default persona vector.
func Default() Parameters {
	return Parameters{
		Formality: 50, Enthusiasm: 50, Humor: 30, Directness: 20, Empathy: 60,
		Detail: 50, Proactivity: 40, Playfulness: 50, Confidence: 70, Questioning: 40,
	}
}

// names lists the ten parameter names in field order, used for the
// PersonaChange.ChangedParameters set and for prompt rendering.
var names = [10]string{
	"formality", "enthusiasm", "humor", "directness", "empathy",
	"detail", "proactivity", "playfulness", "confidence", "questioning",
}

// values returns the ten parameters as an ordered array, in the same
// order as names.
func (p Parameters) values() [10]int {
	return [10]int{
		p.Formality, p.Enthusiasm, p.Humor, p.Directness, p.Empathy,
		p.Detail, p.Proactivity, p.Playfulness, p.Confidence, p.Questioning,
	}
}

// Normalize converts the ten integer parameters in [0,100] to reals in
// [0,1], the form the prompt renderer and any downstream scoring uses.
func (p Parameters) Normalize() [10]float64 {
	vals := p.values()
	var out [10]float64
	for i, v := range vals {
		out[i] = float64(v) / 100.0
	}
	return out
}

// Clamp bounds every parameter to [0,100].
func (p Parameters) Clamp() Parameters {
	vals := p.values()
	for i, v := range vals {
		if v < 0 {
			vals[i] = 0
		} else if v > 100 {
			vals[i] = 100
		}
	}
	return Parameters{
		Formality: vals[0], Enthusiasm: vals[1], Humor: vals[2], Directness: vals[3], Empathy: vals[4],
		Detail: vals[5], Proactivity: vals[6], Playfulness: vals[7], Confidence: vals[8], Questioning: vals[9],
	}
}

// ChangeReason is a closed tag for why a PersonaChange happened.
type ChangeReason string

const (
	ReasonManual       ChangeReason = "manual"
	ReasonPreset       ChangeReason = "preset"
	ReasonOptimization ChangeReason = "optimization"
	ReasonReset        ChangeReason = "reset"
)

// Change is the event recorded whenever Update moves at least one
// parameter: the previous and new vectors, the set of parameter names
// that actually moved, the L1 magnitude of the move normalized by
// parameter count, a timestamp, and the reason tag.
type Change struct {
	ID                string
	Previous          Parameters
	New               Parameters
	ChangedParameters []string
	Magnitude         float64
	Timestamp         time.Time
	Reason            ChangeReason
}

// diff computes the PersonaChange between previous and next, or
// (Change{}, false) if nothing moved.
func diff(previous, next Parameters, reason ChangeReason, now time.Time) (Change, bool) {
	prevVals := previous.values()
	nextVals := next.values()
	var changed []string
	var l1 int
	for i := range prevVals {
		if prevVals[i] != nextVals[i] {
			changed = append(changed, names[i])
			delta := nextVals[i] - prevVals[i]
			if delta < 0 {
				delta = -delta
			}
			l1 += delta
		}
	}
	if len(changed) == 0 {
		return Change{}, false
	}
	return Change{
		Previous:          previous,
		New:               next,
		ChangedParameters: changed,
		Magnitude:         float64(l1) / float64(len(names)),
		Timestamp:         now,
		Reason:            reason,
	}, true
}

// Store is the persona persistence contract shared by every backend.
type Store interface {
	Get(ctx context.Context) (Parameters, error)
	// Update replaces the live parameters with next, recording a
	// Change iff at least one parameter moved (Testable Property 11).
	Update(ctx context.Context, next Parameters, reason ChangeReason) (Change, bool, error)
	Changes(ctx context.Context, limit int) ([]Change, error)
}

// RenderPromptFragment turns a persona vector into the tone-shaping
// instructions appended to the system prompt by C12, grounded on the
// original's persona-to-prompt rendering in ai.rs. Dropped by the
// distilled spec, not excluded by any Non-goal.
func RenderPromptFragment(p Parameters) string {
	n := p.Normalize()
	var sb strings.Builder
	sb.WriteString("Tone guidance (0=low, 1=high): ")
	for i, name := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%.2f", name, n[i])
	}
	return sb.String()
}
