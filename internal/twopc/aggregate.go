package twopc

import (
	"fmt"
	"strings"

	"github.com/sharedcode/xacoord/internal/xa"
)

// Outcome classifies the result of a commit or rollback phase.
type Outcome int

const (
	// Success means every branch committed/rolled back cleanly.
	Success Outcome = iota
	// HeuristicRollback means, in a commit phase, that every participant reported XA_HEURRB and
	// no other branch error was observed.
	HeuristicRollback
	// HeuristicMixed means any other combination of heuristic outcomes and branch errors,
	// including branch errors with no heuristic outcome at all.
	HeuristicMixed
)

type branchFault struct {
	uniqueName string
	code       xa.ErrorCode
}

// classify applies the vote/error aggregation rule: let H be heuristic-anomaly branches and E be
// other-error branches. If H ∪ E = ∅: Success. In a rollback phase, every b in H carrying
// XAHeurRB with E = ∅ already matches the intended outcome: Success. In a commit phase,
// HeuristicRollback is reported only when EVERY participant (total of them) unilaterally rolled
// back; a heuristic rollback alongside even one durable commit is a mixed outcome. Everything
// else: HeuristicMixed, enumerating both groups by uniqueName.
func classify(heuristics, errors []branchFault, total int, isRollbackPhase bool) (Outcome, error) {
	if len(heuristics) == 0 && len(errors) == 0 {
		return Success, nil
	}
	allHeurRB := len(errors) == 0
	for _, h := range heuristics {
		if h.code != xa.XAHeurRB {
			allHeurRB = false
			break
		}
	}
	if allHeurRB && len(heuristics) > 0 {
		if isRollbackPhase {
			return Success, nil
		}
		if len(heuristics) == total {
			return HeuristicRollback, fmt.Errorf("xacoord: heuristic rollback: %s", describeFaults(heuristics, errors))
		}
	}
	return HeuristicMixed, fmt.Errorf("xacoord: heuristic mixed outcome: %s", describeFaults(heuristics, errors))
}

func describeFaults(heuristics, errors []branchFault) string {
	var parts []string
	for _, h := range heuristics {
		parts = append(parts, fmt.Sprintf("%s=%s", h.uniqueName, h.code))
	}
	for _, e := range errors {
		parts = append(parts, fmt.Sprintf("%s=%s", e.uniqueName, e.code))
	}
	return strings.Join(parts, ", ")
}
