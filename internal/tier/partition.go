// Package tier cuts the priority-ranked living entities into the three
// review tiers. The cut is a deterministic function of rank and configured
// thresholds; dead or removed entities never receive a record.
package tier

import (
	"ecosim/internal/config"
	"ecosim/internal/logging"
	"ecosim/internal/scoring"
)

// Partition holds the three tiers for one turn. The tiers always partition
// the scored set exactly: no duplicates, no omissions.
type Partition struct {
	A []scoring.PriorityRecord
	B []scoring.PriorityRecord
	C []scoring.PriorityRecord
}

// Size returns the total number of partitioned records.
func (p Partition) Size() int { return len(p.A) + len(p.B) + len(p.C) }

// Split assigns tiers to records already sorted by priority descending
// (scoring.ScoreAll's output order).
//
// The first topA records go to tier A. The next topB records go to tier B
// only while their priority clears the configured floor; records inside the
// B window that fall below it drop to C along with the remainder.
func Split(ranked []scoring.PriorityRecord, cfg config.TierConfig) Partition {
	var p Partition

	for i := range ranked {
		rec := ranked[i]
		switch {
		case i < cfg.TopA:
			rec.Tier = scoring.TierA
			p.A = append(p.A, rec)
		case i < cfg.TopA+cfg.TopB && rec.Priority >= cfg.PriorityThreshold:
			rec.Tier = scoring.TierB
			p.B = append(p.B, rec)
		default:
			rec.Tier = scoring.TierC
			p.C = append(p.C, rec)
		}
	}

	logging.Tier("partitioned %d entities: A=%d B=%d C=%d (threshold %.2f)",
		len(ranked), len(p.A), len(p.B), len(p.C), cfg.PriorityThreshold)
	return p
}
