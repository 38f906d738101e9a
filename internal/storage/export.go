package storage

import (
	"encoding/json"
	"os"
)

type ExportData struct {
	ID        string             `json:"id"`
	Model     string             `json:"model"`
	Solver    string             `json:"solver"`
	Linear    string             `json:"linear"`
	Converged bool               `json:"converged"`
	Iters     []int              `json:"iters"`
	Norms     []float64          `json:"norms"`
	Outputs   map[string]float64 `json:"outputs"`
}

func buildExport(meta *RunMetadata, history []IterRecord) ExportData {
	data := ExportData{
		ID:        meta.ID,
		Model:     meta.Model,
		Solver:    meta.Solver,
		Linear:    meta.Linear,
		Converged: meta.Converged,
		Iters:     make([]int, len(history)),
		Norms:     make([]float64, len(history)),
		Outputs:   meta.Outputs,
	}
	for i, rec := range history {
		data.Iters[i] = rec.Iter
		data.Norms[i] = rec.Norm
	}
	return data
}

func ExportJSON(path string, meta *RunMetadata, history []IterRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(buildExport(meta, history))
}

func ExportJSONStdout(meta *RunMetadata, history []IterRecord) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(buildExport(meta, history))
}
