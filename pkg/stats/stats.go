// Package stats computes summary statistics over the force measurements
// of one execution: totals across the run plus per temperature block, in
// measurement order.
package stats

import (
	"math"

	"github.com/forcelab/eoltester/pkg/sequence"
)

// ForceStats aggregates peak force readings.
type ForceStats struct {
	MinN    float64 `json:"min_n"`
	MaxN    float64 `json:"max_n"`
	MeanN   float64 `json:"mean_n"`
	StdDevN float64 `json:"std_dev_n"`
}

// BlockStats summarizes one temperature block of one repeat.
type BlockStats struct {
	Repeat          int     `json:"repeat"`
	TempIndex       int     `json:"temp_index"`
	TemperatureSetC float64 `json:"temperature_set_c"`

	Cells  int `json:"cells"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`

	Force ForceStats `json:"force"`
}

// Summary is the full statistics document for one execution.
type Summary struct {
	ExecutionID string           `json:"execution_id"`
	Verdict     sequence.Verdict `json:"verdict"`

	Cells     int `json:"cells"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Unchecked int `json:"unchecked"`

	Force  *ForceStats  `json:"force,omitempty"`
	Blocks []BlockStats `json:"blocks,omitempty"`
}

// Summarize computes the statistics document for one result. A result
// with no measurements yields a summary with zero cells and no force
// stats.
func Summarize(result *sequence.TestResult) *Summary {
	summary := &Summary{
		ExecutionID: result.ExecutionID,
		Verdict:     result.Verdict,
		Cells:       len(result.Measurements),
	}

	if len(result.Measurements) == 0 {
		return summary
	}

	forces := make([]float64, 0, len(result.Measurements))

	for _, m := range result.Measurements {
		forces = append(forces, m.PeakForceN)

		switch m.Outcome {
		case sequence.CellPass:
			summary.Passed++
		case sequence.CellFail:
			summary.Failed++
		case sequence.CellUnchecked:
			summary.Unchecked++
		}
	}

	total := computeForceStats(forces)
	summary.Force = &total

	summary.Blocks = blockStats(result.Measurements)

	return summary
}

// blockStats groups measurements by (repeat, temperature index) in the
// order they were recorded.
func blockStats(measurements []sequence.Measurement) []BlockStats {
	type key struct {
		repeat    int
		tempIndex int
	}

	var (
		blocks []BlockStats
		index  = make(map[key]int)
		groups = make(map[key][]float64)
	)

	for _, m := range measurements {
		k := key{m.Repeat, m.TempIndex}

		if _, ok := index[k]; !ok {
			index[k] = len(blocks)
			blocks = append(blocks, BlockStats{
				Repeat:          m.Repeat,
				TempIndex:       m.TempIndex,
				TemperatureSetC: m.TemperatureSetC,
			})
		}

		b := &blocks[index[k]]
		b.Cells++

		switch m.Outcome {
		case sequence.CellPass:
			b.Passed++
		case sequence.CellFail:
			b.Failed++
		}

		groups[k] = append(groups[k], m.PeakForceN)
	}

	for k, i := range index {
		blocks[i].Force = computeForceStats(groups[k])
	}

	return blocks
}

func computeForceStats(forces []float64) ForceStats {
	fs := ForceStats{MinN: forces[0], MaxN: forces[0]}

	var sum float64

	for _, f := range forces {
		sum += f

		if f < fs.MinN {
			fs.MinN = f
		}

		if f > fs.MaxN {
			fs.MaxN = f
		}
	}

	fs.MeanN = sum / float64(len(forces))

	var variance float64
	for _, f := range forces {
		d := f - fs.MeanN
		variance += d * d
	}

	fs.StdDevN = math.Sqrt(variance / float64(len(forces)))

	return fs
}
