package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestStoreSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	history := []IterRecord{
		{Iter: 0, Norm: 3.0},
		{Iter: 1, Norm: 0.25},
		{Iter: 2, Norm: 1e-12},
	}
	outputs := map[string]float64{"comp.x": 1.0}

	runID, err := st.Save("quadratic", "newton", "direct", true, outputs, history)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if runID == "" {
		t.Error("expected non-empty run id")
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if meta.Model != "quadratic" {
		t.Errorf("expected model 'quadratic', got '%s'", meta.Model)
	}

	if meta.Solver != "newton" {
		t.Errorf("expected solver 'newton', got '%s'", meta.Solver)
	}

	if !meta.Converged {
		t.Error("expected converged run")
	}

	if meta.Iters != 2 {
		t.Errorf("expected final iter 2, got %d", meta.Iters)
	}

	if meta.Outputs["comp.x"] != 1.0 {
		t.Errorf("expected comp.x 1.0, got %f", meta.Outputs["comp.x"])
	}

	loaded, err := st.LoadHistory(runID)
	if err != nil {
		t.Fatalf("load history failed: %v", err)
	}

	if len(loaded) != 3 {
		t.Fatalf("expected 3 records, got %d", len(loaded))
	}

	if loaded[1].Norm != 0.25 {
		t.Errorf("expected norm 0.25, got %g", loaded[1].Norm)
	}
}

func TestStoreList(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	_, err = st.Save("sellar", "newton", "direct", true, nil, nil)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestStoreFileStructure(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.Save("chain", "newton", "blockgs", false, nil, []IterRecord{{Iter: 0, Norm: 1}})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runDir := filepath.Join(tmpDir, runID)
	metaPath := filepath.Join(runDir, "metadata.json")
	csvPath := filepath.Join(runDir, "history.csv")

	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		t.Error("metadata.json not created")
	}

	if _, err := os.Stat(csvPath); os.IsNotExist(err) {
		t.Error("history.csv not created")
	}
}

func TestExportJSONFile(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	history := []IterRecord{{Iter: 0, Norm: 2.0}, {Iter: 1, Norm: 1e-11}}
	runID, err := st.Save("sellar", "newton", "direct", true,
		map[string]float64{"d1.y1": 25.5883}, history)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	outPath := filepath.Join(tmpDir, "run.json")
	if err := ExportJSON(outPath, meta, history); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}

	var data ExportData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}

	if data.ID != runID {
		t.Errorf("expected id %s, got %s", runID, data.ID)
	}

	if data.Model != "sellar" {
		t.Errorf("expected model 'sellar', got '%s'", data.Model)
	}

	if len(data.Norms) != 2 || data.Norms[0] != 2.0 {
		t.Errorf("expected norms [2 1e-11], got %v", data.Norms)
	}

	if data.Outputs["d1.y1"] != 25.5883 {
		t.Errorf("expected d1.y1 25.5883, got %f", data.Outputs["d1.y1"])
	}
}
