package phase

import "github.com/okian/jumplab/internal/domain/model"

// Per-test-type transition tables. The detector only ever advances along
// these chains; a signal that looks like a later phase while an earlier one
// is current is treated as noise until the expected condition truly holds.
var transitionTables = map[model.TestType]map[model.TestPhase]model.TestPhase{
	model.TestCountermovementJump: {
		model.PhaseQuietStanding: model.PhaseUnweighting,
		model.PhaseUnweighting:   model.PhaseBraking,
		model.PhaseBraking:       model.PhasePropulsion,
		model.PhasePropulsion:    model.PhaseFlight,
		model.PhaseFlight:        model.PhaseLanding,
		model.PhaseLanding:       model.PhaseRecovery,
	},
	model.TestIsometricPull: {
		model.PhaseQuietStanding: model.PhasePropulsion,
		model.PhasePropulsion:    model.PhaseRecovery,
	},
	model.TestBalanceHold: {
		model.PhaseQuietStanding: model.PhaseRecovery,
	},
}

// mandatoryPhases lists the phases a complete test of each type must close,
// in order. A missing one marks the result incomplete at finalization.
var mandatoryPhases = map[model.TestType][]model.TestPhase{
	model.TestCountermovementJump: {
		model.PhaseQuietStanding,
		model.PhaseUnweighting,
		model.PhaseBraking,
		model.PhasePropulsion,
		model.PhaseFlight,
		model.PhaseLanding,
	},
	model.TestIsometricPull: {
		model.PhaseQuietStanding,
		model.PhasePropulsion,
	},
	model.TestBalanceHold: {
		model.PhaseQuietStanding,
	},
}

// nextPhase returns the phase following current for the given test type.
func nextPhase(t model.TestType, current model.TestPhase) (model.TestPhase, bool) {
	table, ok := transitionTables[t]
	if !ok {
		return model.PhaseIdle, false
	}
	next, ok := table[current]
	return next, ok
}

// MandatoryPhases returns the ordered phases a complete test must close.
func MandatoryPhases(t model.TestType) []model.TestPhase {
	return mandatoryPhases[t]
}
