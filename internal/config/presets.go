package config

var Presets = map[string]map[string]*Config{
	"quadratic": {
		"default": {
			Model:  "quadratic",
			Solver: SolverConfig{Kind: "newton", MaxIter: 10, Atol: 1e-10, Rtol: 1e-10},
			Linear: LinearConfig{Kind: "direct"},
		},
		"tight": {
			Model:  "quadratic",
			Solver: SolverConfig{Kind: "newton", MaxIter: 30, Atol: 1e-14, Rtol: 1e-14},
			Linear: LinearConfig{Kind: "direct"},
		},
		"krylov": {
			Model:  "quadratic-matfree",
			Solver: SolverConfig{Kind: "newton", MaxIter: 10, Atol: 1e-10, Rtol: 1e-10},
			Linear: LinearConfig{Kind: "gmres", MaxIter: 100, Atol: 1e-12, Rtol: 1e-10},
		},
	},
	"sellar": {
		"newton": {
			Model:  "sellar",
			Solver: SolverConfig{Kind: "newton", MaxIter: 15, Atol: 1e-10, Rtol: 1e-10},
			Linear: LinearConfig{Kind: "direct"},
		},
		"fixed-point": {
			Model:  "sellar",
			Solver: SolverConfig{Kind: "nlbgs", MaxIter: 50, Atol: 1e-10, Rtol: 1e-10},
			Linear: LinearConfig{Kind: "direct"},
		},
		"guarded": {
			Model:  "sellar",
			Solver: SolverConfig{Kind: "newton", MaxIter: 20, Atol: 1e-10, Rtol: 1e-10, LineSearch: true},
			Linear: LinearConfig{Kind: "direct"},
		},
	},
	"chain": {
		"default": {
			Model:  "chain",
			Solver: SolverConfig{Kind: "newton", MaxIter: 1, Atol: 1e-5, Rtol: 1e-10},
			Linear: LinearConfig{Kind: "blockgs", MaxIter: 20, Atol: 1e-12, Rtol: 1e-10},
		},
	},
}

func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return cfg
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	return names
}
