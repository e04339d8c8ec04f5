package engine

import (
	"time"

	"github.com/erauner12/pagesync/internal/canon"
)

// decision is the per-field outcome of conflict evaluation.
type decision int

const (
	decideEqual decision = iota
	decidePickA
	decidePickB
	decideManual
)

// resolveField applies the auto-resolution rules to one mapped field.
// va and vb are the canonicalized values; ta and tb the record-level
// modification times; ts the pair's last sync time (zero when the pair
// has never synced, which compares as the epoch).
func resolveField(dir Direction, va, vb canon.Value, ta, tb, ts time.Time) decision {
	if canon.Equal(va, vb) {
		return decideEqual
	}
	switch dir {
	case DirectionAToB:
		return decidePickA
	case DirectionBToA:
		return decidePickB
	}

	aNewer := ta.After(ts)
	bNewer := tb.After(ts)
	switch {
	case aNewer && !bNewer:
		return decidePickA
	case bNewer && !aNewer:
		return decidePickB
	case aNewer && bNewer:
		if ta.After(tb) {
			return decidePickA
		}
		if tb.After(ta) {
			return decidePickB
		}
		return decideManual
	default:
		// Neither side moved since the last sync yet the values differ.
		// Drift from an unknown source; do not guess.
		return decideManual
	}
}

// fieldState is one mapping evaluated against a live (entry, page)
// pair: the canonical values on both sides and the auto-resolution
// outcome.
type fieldState struct {
	mapping  FieldMapping
	bType    string
	va, vb   canon.Value
	decision decision
}
