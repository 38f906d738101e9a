package main

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"mdflow/internal/config"
	"mdflow/internal/linear"
	"mdflow/internal/models"
	"mdflow/internal/solver"
	"mdflow/internal/storage"
	"mdflow/internal/system"
	"mdflow/internal/tui"
)

var (
	dataDir    string
	configFile string
	preset     string
	solverKind string
	linearKind string
	maxIter    int
	atol       float64
	rtol       float64
	lineSearch bool
	subSolve   bool
	maxSub     int
	setValues  []string
	// Totals options
	ofNames  []string
	wrtNames []string
	mode     string
	// Export options
	exportOut string
)

var (
	headStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mdflow",
		Short: "coupled model solver lab",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".mdflow", "data directory")

	runCmd := &cobra.Command{
		Use:   "run [model]",
		Short: "solve a model",
		Args:  cobra.ExactArgs(1),
		RunE:  runModel,
	}
	addSolveFlags(runCmd)

	totalsCmd := &cobra.Command{
		Use:   "totals [model]",
		Short: "solve a model and compute total derivatives",
		Args:  cobra.ExactArgs(1),
		RunE:  runTotals,
	}
	addSolveFlags(totalsCmd)
	totalsCmd.Flags().StringSliceVar(&ofNames, "of", nil, "derivative numerators")
	totalsCmd.Flags().StringSliceVar(&wrtNames, "wrt", nil, "derivative denominators")
	totalsCmd.Flags().StringVar(&mode, "mode", "auto", "derivative mode (auto, fwd, rev)")

	listCmd := &cobra.Command{
		Use:   "list [model]",
		Short: "solve a model and list its variables",
		Args:  cobra.ExactArgs(1),
		RunE:  listVars,
	}
	addSolveFlags(listCmd)

	liveCmd := &cobra.Command{
		Use:   "live [model]",
		Short: "solve a model with a live convergence display",
		Args:  cobra.ExactArgs(1),
		RunE:  runLive,
	}
	addSolveFlags(liveCmd)

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, e := range models.All() {
				fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Description)
			}
			return w.Flush()
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for model: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "list saved runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot the convergence history of a saved run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a saved run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVar(&exportOut, "out", "", "write to a file instead of stdout")

	rootCmd.AddCommand(runCmd, totalsCmd, listCmd, liveCmd, modelsCmd, presetsCmd, runsCmd, plotCmd, exportCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSolveFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().StringVar(&solverKind, "solver", "", "nonlinear solver (newton, nlbgs, runonce)")
	cmd.Flags().StringVar(&linearKind, "linear", "", "linear solver (direct, gmres, blockgs)")
	cmd.Flags().IntVar(&maxIter, "maxiter", 0, "solver iteration limit")
	cmd.Flags().Float64Var(&atol, "atol", 0, "absolute tolerance")
	cmd.Flags().Float64Var(&rtol, "rtol", 0, "relative tolerance")
	cmd.Flags().BoolVar(&lineSearch, "linesearch", false, "enable bounds-enforcing line search")
	cmd.Flags().BoolVar(&subSolve, "subsolve", false, "run subsystem pre-solves inside Newton iterations")
	cmd.Flags().IntVar(&maxSub, "max-subsolves", 0, "subsystem pre-solve budget")
	cmd.Flags().StringSliceVar(&setValues, "set", nil, "override a value, e.g. --set params.x=2.5")
}

// resolveConfig folds preset, config file, and flags (in increasing
// precedence) into one effective configuration.
func resolveConfig(cmd *cobra.Command, model string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.Model = model

	if preset != "" {
		p := config.GetPreset(model, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(model))
		}
		*cfg = *p
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		if cfg.Model == "" {
			cfg.Model = model
		}
	}

	if cmd.Flags().Changed("solver") {
		cfg.Solver.Kind = solverKind
	}
	if cmd.Flags().Changed("linear") {
		cfg.Linear.Kind = linearKind
	}
	if cmd.Flags().Changed("maxiter") {
		cfg.Solver.MaxIter = maxIter
	}
	if cmd.Flags().Changed("atol") {
		cfg.Solver.Atol = atol
	}
	if cmd.Flags().Changed("rtol") {
		cfg.Solver.Rtol = rtol
	}
	if cmd.Flags().Changed("linesearch") {
		cfg.Solver.LineSearch = lineSearch
	}
	if cmd.Flags().Changed("subsolve") {
		cfg.Solver.SolveSubsystems = subSolve
	}
	if cmd.Flags().Changed("max-subsolves") {
		cfg.Solver.MaxSubSolves = maxSub
	}
	if cfg.Values == nil {
		cfg.Values = make(map[string]float64)
	}
	for _, kv := range setValues {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("bad --set %q, want name=value", kv)
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("bad --set %q: %w", kv, err)
		}
		cfg.Values[name] = f
	}
	return cfg, nil
}

// buildProblem constructs the model's group, applies the solver
// configuration, and runs setup.
func buildProblem(cfg *config.Config) (models.Entry, *system.Problem, error) {
	entry, err := models.Lookup(cfg.Model)
	if err != nil {
		return models.Entry{}, nil, err
	}

	opts := models.DefaultOptions()
	opts.MaxIter = cfg.Solver.MaxIter
	opts.Atol = cfg.Solver.Atol
	opts.Rtol = cfg.Solver.Rtol
	opts.LineSearch = cfg.Solver.LineSearch
	opts.SolveSubsystems = cfg.Solver.SolveSubsystems
	opts.MaxSubSolves = cfg.Solver.MaxSubSolves
	opts.Krylov = cfg.Linear.Kind == "gmres"

	g, err := entry.Build(opts)
	if err != nil {
		return models.Entry{}, nil, err
	}

	switch cfg.Solver.Kind {
	case "", "newton":
		// builders attach Newton by default
	case "nlbgs":
		nl := solver.NewBlockGS()
		if cfg.Solver.MaxIter > 0 {
			nl.MaxIter = cfg.Solver.MaxIter
		}
		if cfg.Solver.Atol > 0 {
			nl.Atol = cfg.Solver.Atol
		}
		if cfg.Solver.Rtol > 0 {
			nl.Rtol = cfg.Solver.Rtol
		}
		g.Nonlinear = nl
	case "runonce":
		g.Nonlinear = solver.NewRunOnce()
	default:
		return models.Entry{}, nil, fmt.Errorf("unknown solver: %s", cfg.Solver.Kind)
	}

	switch cfg.Linear.Kind {
	case "":
		// keep the builder's linear solver
	case "direct":
		g.Linear = linear.NewDirect()
	case "gmres":
		gm := linear.NewGMRES()
		if cfg.Linear.MaxIter > 0 {
			gm.MaxIter = cfg.Linear.MaxIter
		}
		if cfg.Linear.Atol > 0 {
			gm.Atol = cfg.Linear.Atol
		}
		if cfg.Linear.Rtol > 0 {
			gm.Rtol = cfg.Linear.Rtol
		}
		g.Linear = gm
	case "blockgs":
		bg := linear.NewBlockGS()
		if cfg.Linear.MaxIter > 0 {
			bg.MaxIter = cfg.Linear.MaxIter
		}
		g.Linear = bg
	default:
		return models.Entry{}, nil, fmt.Errorf("unknown linear solver: %s", cfg.Linear.Kind)
	}

	prob := system.NewProblem(g)
	if err := prob.Setup(); err != nil {
		return models.Entry{}, nil, err
	}
	for name, val := range cfg.Values {
		if err := prob.SetValue(name, val); err != nil {
			return models.Entry{}, nil, err
		}
	}
	return entry, prob, nil
}

type monitorable interface {
	AddMonitor(system.Monitor)
}

type historied interface {
	History() []solver.Iteration
}

func solveHistory(g *system.Group) []solver.Iteration {
	if h, ok := g.Nonlinear.(historied); ok {
		return h.History()
	}
	return nil
}

func runModel(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	_, prob, err := buildProblem(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("solving %s...\n", cfg.Model)
	start := time.Now()
	solveErr := prob.RunModel()
	elapsed := time.Since(start)

	history := solveHistory(prob.Model())
	if solveErr != nil {
		fmt.Println(failStyle.Render("solve failed: " + solveErr.Error()))
	} else {
		fmt.Println(okStyle.Render(fmt.Sprintf("converged in %v", elapsed)))
	}

	outputs, err := prob.ListOutputs(system.AllOutputs)
	if err != nil {
		return err
	}

	fmt.Println("\n" + headStyle.Render("outputs"))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, info := range outputs {
		for i, v := range info.Value {
			name := info.Name
			if len(info.Value) > 1 {
				name = fmt.Sprintf("%s[%d]", info.Name, i)
			}
			fmt.Fprintf(w, "  %s\t%.8g\n", name, v)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(history) > 1 {
		fmt.Println()
		plotHistory(historyNorms(history))
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(cfg.Model, solverName(cfg), linearName(prob.Model().Linear), solveErr == nil,
		flattenOutputs(outputs), toRecords(history))
	if err != nil {
		return err
	}
	fmt.Println(dimStyle.Render("run id: " + runID))

	return solveErr
}

func runTotals(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	entry, prob, err := buildProblem(cfg)
	if err != nil {
		return err
	}
	if err := prob.RunModel(); err != nil {
		return err
	}

	of := ofNames
	if len(of) == 0 {
		of = cfg.Of
	}
	if len(of) == 0 {
		of = entry.DefaultOf
	}
	wrt := wrtNames
	if len(wrt) == 0 {
		wrt = cfg.Wrt
	}
	if len(wrt) == 0 {
		wrt = entry.DefaultWrt
	}
	if len(of) == 0 || len(wrt) == 0 {
		return fmt.Errorf("model %s has no default derivative pairs; pass --of and --wrt", cfg.Model)
	}

	var totals *system.Totals
	switch mode {
	case "auto", "":
		totals, err = prob.ComputeTotals(of, wrt)
	case "fwd":
		totals, err = prob.ComputeTotalsMode(system.Forward, of, wrt)
	case "rev":
		totals, err = prob.ComputeTotalsMode(system.Reverse, of, wrt)
	default:
		return fmt.Errorf("unknown mode: %s (want auto, fwd, or rev)", mode)
	}
	if err != nil {
		return err
	}

	fmt.Println(headStyle.Render(fmt.Sprintf("total derivatives (%s mode)", totals.Mode())))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "OF \\ WRT")
	for _, wn := range totals.Wrt() {
		fmt.Fprintf(w, "\t%s", wn)
	}
	fmt.Fprintln(w)
	for _, on := range totals.Of() {
		fmt.Fprintf(w, "%s", on)
		for _, wn := range totals.Wrt() {
			fmt.Fprintf(w, "\t%.8g", totals.Value(on, wn))
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func listVars(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	_, prob, err := buildProblem(cfg)
	if err != nil {
		return err
	}
	if err := prob.RunModel(); err != nil {
		return err
	}

	inputs, err := prob.ListInputs()
	if err != nil {
		return err
	}
	outputs, err := prob.ListOutputs(system.AllOutputs)
	if err != nil {
		return err
	}

	fmt.Println(headStyle.Render("inputs"))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSYSTEM\tVALUE")
	for _, info := range inputs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, info.SystemPath, fmtVec(info.Value))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Println("\n" + headStyle.Render("outputs"))
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSYSTEM\tVALUE\tRESIDUAL")
	for _, info := range outputs {
		res := "-"
		if info.Implicit {
			res = fmtVec(info.Residual)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Name, info.SystemPath, fmtVec(info.Value), res)
	}
	return w.Flush()
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	_, prob, err := buildProblem(cfg)
	if err != nil {
		return err
	}

	return tui.RunLive(cfg.Model, func(feed *tui.Feed) error {
		if m, ok := prob.Model().Nonlinear.(monitorable); ok {
			m.AddMonitor(feed)
		}
		return prob.RunModel()
	})
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tSOLVER\tLINEAR\tITERS\tNORM\tOK")
	for _, run := range runs {
		ok := "yes"
		if !run.Converged {
			ok = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%.3e\t%s\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Solver,
			run.Linear,
			run.Iters,
			run.Norm,
			ok,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	history, err := st.LoadHistory(runID)
	if err != nil {
		return err
	}
	if len(history) < 2 {
		return fmt.Errorf("no history to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n\n", meta.Model)

	norms := make([]float64, len(history))
	for i, rec := range history {
		norms[i] = rec.Norm
	}
	plotHistory(norms)
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	history, err := st.LoadHistory(runID)
	if err != nil {
		return err
	}
	if exportOut != "" {
		if err := storage.ExportJSON(exportOut, meta, history); err != nil {
			return err
		}
		fmt.Println(dimStyle.Render("exported to " + exportOut))
		return nil
	}
	return storage.ExportJSONStdout(meta, history)
}

func plotHistory(norms []float64) {
	data := make([]float64, len(norms))
	for i, v := range norms {
		if v <= 0 {
			v = 1e-300
		}
		data[i] = math.Log10(v)
	}
	graph := asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Width(60),
		asciigraph.Caption("log10 |R| vs iteration"),
	)
	fmt.Println(graph)
}

func historyNorms(history []solver.Iteration) []float64 {
	norms := make([]float64, len(history))
	for i, it := range history {
		norms[i] = it.Norm
	}
	return norms
}

func toRecords(history []solver.Iteration) []storage.IterRecord {
	recs := make([]storage.IterRecord, len(history))
	for i, it := range history {
		recs[i] = storage.IterRecord{Iter: it.Iter, Norm: it.Norm}
	}
	return recs
}

func flattenOutputs(infos []system.VarInfo) map[string]float64 {
	out := make(map[string]float64, len(infos))
	for _, info := range infos {
		for i, v := range info.Value {
			name := info.Name
			if len(info.Value) > 1 {
				name = fmt.Sprintf("%s[%d]", info.Name, i)
			}
			out[name] = v
		}
	}
	return out
}

func solverName(cfg *config.Config) string {
	if cfg.Solver.Kind == "" {
		return "newton"
	}
	return cfg.Solver.Kind
}

func linearName(ls system.LinearSolver) string {
	switch ls.(type) {
	case *linear.Direct:
		return "direct"
	case *linear.GMRES:
		return "gmres"
	case *linear.BlockGS:
		return "blockgs"
	default:
		return "custom"
	}
}

func fmtVec(v []float64) string {
	if len(v) == 1 {
		return strconv.FormatFloat(v[0], 'g', 8, 64)
	}
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', 6, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
