package progress

import (
	"fmt"
	"strings"

	"github.com/sells-group/profile-engine/internal/model"
)

// ActivationRules are the thresholds a profile must clear before it
// enters matching.
type ActivationRules struct {
	Tier2Min     float64
	TotalMin     float64
	MinOpenEnded int
	MinSessions  int
}

// DefaultActivationRules are the operating defaults.
var DefaultActivationRules = ActivationRules{
	Tier2Min:     70,
	TotalMin:     45,
	MinOpenEnded: 2,
	MinSessions:  2,
}

// GateDecision is the outcome of one activation evaluation. Blockers
// name every unmet condition, not just the first.
type GateDecision struct {
	Activated bool
	Blockers  []string
}

// EvaluateGate checks all activation conditions against the snapshot.
// Every condition is evaluated so the blocker list is complete.
func EvaluateGate(reg *model.FieldRegistry, p *model.Profile, tp *model.TierProgress, rules ActivationRules, signalFloor float64) GateDecision {
	var blockers []string

	if tp.TierPct[1] < 100 {
		missing := MissingRequired(reg, p, 1, signalFloor)
		labels := make([]string, len(missing))
		for i, key := range missing {
			labels[i] = DisplayName(key)
		}
		blockers = append(blockers, fmt.Sprintf("Core details incomplete: %s", strings.Join(labels, ", ")))
	}
	if tp.TierPct[2] < rules.Tier2Min {
		blockers = append(blockers, fmt.Sprintf("Compatibility signals at %.0f%%, need %.0f%%", tp.TierPct[2], rules.Tier2Min))
	}
	if tp.OpenEndedCount < rules.MinOpenEnded {
		blockers = append(blockers, fmt.Sprintf("Open-ended conversations: %d of %d", tp.OpenEndedCount, rules.MinOpenEnded))
	}
	if tp.TotalPct < rules.TotalMin {
		blockers = append(blockers, fmt.Sprintf("Overall completeness at %.0f%%, need %.0f%%", tp.TotalPct, rules.TotalMin))
	}
	if tp.SessionCount < rules.MinSessions {
		blockers = append(blockers, fmt.Sprintf("Sessions: %d of %d", tp.SessionCount, rules.MinSessions))
	}

	return GateDecision{Activated: len(blockers) == 0, Blockers: blockers}
}
