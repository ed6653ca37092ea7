package display

import (
	"fmt"
	"math"

	"github.com/menta2k/pulmoscan/pkg/types"
)

// Row is one line of the class probability table
type Row struct {
	Class       string  `json:"class"`
	Probability float64 `json:"probability"`
	Percent     float64 `json:"percent"`
	Text        string  `json:"text"`
}

// Rows maps a result to display rows in server order
func Rows(r *types.PredictionResponse) []Row {
	if r == nil {
		return nil
	}
	n := len(r.Classes)
	if len(r.Probs) < n {
		n = len(r.Probs)
	}
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		pct := Percent(r.Probs[i])
		rows = append(rows, Row{
			Class:       r.Classes[i],
			Probability: r.Probs[i],
			Percent:     pct,
			Text:        FormatPercent(pct),
		})
	}
	return rows
}

// Percent converts a probability to a percentage rounded to two decimals
func Percent(p float64) float64 {
	return math.Round(p*100*100) / 100
}

// FormatPercent renders a percentage as "13.00%"
func FormatPercent(pct float64) string {
	return fmt.Sprintf("%.2f%%", pct)
}

// Confidence renders the headline confidence of r
func Confidence(r *types.PredictionResponse) string {
	if r == nil {
		return ""
	}
	return FormatPercent(Percent(r.Confidence))
}
