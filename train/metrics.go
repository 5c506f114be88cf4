package train

import (
	"encoding/json"
	"os"

	"organiclm/model"
)

type Metrics struct {
	Steps []StepMetrics `json:"steps"`
}

type StepMetrics struct {
	Step      int                      `json:"step"`
	StageLoss [model.NumStages]float64 `json:"stage_loss"`
	TotalLoss float64                  `json:"total_loss"`
}

func SaveMetricsJSON(path string, metrics Metrics) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metrics)
}
