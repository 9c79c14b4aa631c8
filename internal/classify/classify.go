// Package classify maps a point's stability and its branch family to the
// derivations that may start from it.
package classify

import (
	"github.com/san-kum/dynbranch/internal/branch"
)

// Action names one derivation that can start from a point.
type Action string

const (
	NewEquilibriumBranch Action = "new_equilibrium_branch"
	InitiateLC           Action = "initiate_lc"
	ContinueHopfCurve    Action = "continue_hopf_curve"
	ContinueFoldCurve    Action = "continue_fold_curve"
	NewLimitCycleBranch  Action = "new_limit_cycle_branch"
	BranchToPD           Action = "branch_to_pd"
	ContinuePDCurve      Action = "continue_pd_curve"
	ContinueLPCCurve     Action = "continue_lpc_curve"
	ContinueNSCurve      Action = "continue_ns_curve"
)

var actionLabels = map[Action]string{
	NewEquilibriumBranch: "Continue equilibrium branch",
	InitiateLC:           "Limit cycle from Hopf",
	ContinueHopfCurve:    "Hopf curve (2-parameter)",
	ContinueFoldCurve:    "Fold curve (2-parameter)",
	NewLimitCycleBranch:  "Continue limit cycle branch",
	BranchToPD:           "Branch to period-doubled cycle",
	ContinuePDCurve:      "PD curve (2-parameter)",
	ContinueLPCCurve:     "LPC curve (2-parameter)",
	ContinueNSCurve:      "NS curve (2-parameter)",
}

// Label is the menu text for a.
func (a Action) Label() string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// Family groups branch kinds that share a point classification policy.
type Family int

const (
	// FamilyNone covers kinds whose points offer no further derivations.
	FamilyNone Family = iota
	FamilyEquilibrium
	FamilyLimitCycle
	FamilyTwoParam
)

func (f Family) String() string {
	switch f {
	case FamilyEquilibrium:
		return "equilibrium"
	case FamilyLimitCycle:
		return "limit_cycle"
	case FamilyTwoParam:
		return "two_param"
	default:
		return "none"
	}
}

// FamilyOf maps a coarse branch kind string to its family.
func FamilyOf(kind string) Family {
	switch kind {
	case branch.KindEquilibrium:
		return FamilyEquilibrium
	case branch.KindLimitCycle, branch.KindPDCurve, branch.KindLPCCurve, branch.KindNSCurve:
		return FamilyLimitCycle
	case branch.KindFoldCurve, branch.KindHopfCurve:
		return FamilyTwoParam
	default:
		return FamilyNone
	}
}

// EligibleActions returns the derivations a point offers on a branch of the
// given family, for a flow system. The result is ordered for display.
func EligibleActions(p branch.Point, f Family) []Action {
	return EligibleActionsFor(p, f, branch.Flow)
}

// EligibleActionsFor is EligibleActions with the system type taken into
// account. Map systems never offer Hopf actions, and a period-doubling
// fixed point on a map offers branch_to_pd.
func EligibleActionsFor(p branch.Point, f Family, st branch.SystemType) []Action {
	switch f {
	case FamilyEquilibrium:
		actions := []Action{NewEquilibriumBranch}
		switch p.Stability {
		case branch.Hopf:
			if st != branch.Map {
				actions = append(actions, InitiateLC, ContinueHopfCurve)
			}
		case branch.Fold:
			actions = append(actions, ContinueFoldCurve)
		case branch.PeriodDoubling:
			if st == branch.Map {
				actions = append(actions, BranchToPD)
			}
		}
		return actions
	case FamilyLimitCycle:
		actions := []Action{NewLimitCycleBranch}
		switch p.Stability {
		case branch.PeriodDoubling:
			actions = append(actions, BranchToPD, ContinuePDCurve)
		case branch.CycleFold:
			actions = append(actions, ContinueLPCCurve)
		case branch.NeimarkSacker:
			actions = append(actions, ContinueNSCurve)
		}
		return actions
	default:
		return nil
	}
}

// Offers reports whether a is among the actions p offers.
func Offers(p branch.Point, f Family, st branch.SystemType, a Action) bool {
	for _, x := range EligibleActionsFor(p, f, st) {
		if x == a {
			return true
		}
	}
	return false
}
