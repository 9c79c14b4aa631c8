package config

import (
	"sort"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/solver"
)

// Presets are named continuation settings selectable with --preset.
var Presets = map[string]branch.Settings{
	"coarse": {
		StepSize: 0.05, MinStepSize: 1e-4, MaxStepSize: 0.5, MaxSteps: 50,
		CorrectorSteps: 4, CorrectorTolerance: 1e-5, StepTolerance: 1e-5,
	},
	"default": branch.DefaultSettings(),
	"fine": {
		StepSize: 0.001, MinStepSize: 1e-7, MaxStepSize: 0.01, MaxSteps: 1000,
		CorrectorSteps: 8, CorrectorTolerance: 1e-9, StepTolerance: 1e-9,
	},
}

func GetPreset(name string) *branch.Settings {
	s, ok := Presets[name]
	if !ok {
		return nil
	}
	return &s
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Manifold2DProfile returns the named 2D manifold bundle.
func Manifold2DProfile(name string) (solver.Manifold2DSettings, error) {
	return solver.DefaultManifold2D().WithProfile(name)
}

func ListProfiles() []string {
	return solver.ProfileNames()
}

func knownProfile(name string) bool {
	_, ok := solver.Manifold2DProfiles[name]
	return ok
}
