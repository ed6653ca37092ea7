// Package normalizer reconciles the payload shapes of the prediction service
// into one canonical response.
package normalizer

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/menta2k/pulmoscan/pkg/types"
)

// ErrMalformed is wrapped by every rejection of a payload
var ErrMalformed = errors.New("malformed prediction response")

// confidenceTolerance bounds the allowed gap between confidence and probs[label]
const confidenceTolerance = 1e-6

// Normalize turns a wire payload into the canonical response. explainRequested
// is the flag of the request that produced raw; the server echo is ignored.
func Normalize(task types.DiseaseTask, raw *types.WireResponse, explainRequested bool) (*types.PredictionResponse, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	shape := detectShape(raw)

	resp := &types.PredictionResponse{
		Task:             task,
		Label:            strings.TrimSpace(raw.Label),
		Filename:         raw.Filename,
		ExplainRequested: explainRequested,
		Shape:            shape,
	}
	if raw.ExplainSupported != nil {
		resp.ExplainSupported = *raw.ExplainSupported
	}

	var confidence *float64
	switch shape {
	case types.ShapeTopK:
		if len(raw.TopKLabels) != len(raw.TopKScores) {
			return nil, fmt.Errorf("%w: %d top-k labels but %d scores", ErrMalformed, len(raw.TopKLabels), len(raw.TopKScores))
		}
		resp.Classes, resp.Probs = alignTopK(task, raw.TopKLabels, raw.TopKScores)
		confidence = raw.Score
		if raw.Confidence != nil {
			confidence = raw.Confidence
		}
		// the top-k service had no capability flag; an image means it worked
		if raw.ExplainSupported == nil && deref(raw.HeatmapB64) != "" {
			resp.ExplainSupported = true
		}
	default:
		resp.Classes = append([]string(nil), raw.Classes...)
		resp.Probs = append([]float64(nil), raw.Probs...)
		confidence = raw.Confidence
	}

	if err := validateClasses(resp.Classes, resp.Probs); err != nil {
		return nil, err
	}
	if resp.Label == "" {
		return nil, fmt.Errorf("%w: missing label", ErrMalformed)
	}

	idx := indexOf(resp.Classes, resp.Label)
	switch {
	case confidence != nil:
		resp.Confidence = *confidence
		if idx >= 0 && math.Abs(resp.Confidence-resp.Probs[idx]) > confidenceTolerance {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf(
				"confidence %.4f differs from probability %.4f of %s", resp.Confidence, resp.Probs[idx], resp.Label))
		}
	case idx >= 0:
		resp.Confidence = resp.Probs[idx]
	default:
		return nil, fmt.Errorf("%w: no confidence for label %q", ErrMalformed, resp.Label)
	}
	if math.IsNaN(resp.Confidence) || resp.Confidence < 0 || resp.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformed, resp.Confidence)
	}
	if len(resp.Classes) > 0 && idx < 0 {
		resp.Warnings = append(resp.Warnings, fmt.Sprintf("label %q is not among the returned classes", resp.Label))
	}
	if w := taxonomyWarning(task, resp.Classes); w != "" {
		resp.Warnings = append(resp.Warnings, w)
	}

	resp.Explain = explanation(shape, raw)
	return resp, nil
}

// HasExplainability reports whether explanation UI may be shown for r
func HasExplainability(r *types.PredictionResponse) bool {
	return r.HasExplainability()
}

func detectShape(raw *types.WireResponse) types.ResponseShape {
	switch {
	case raw.ExplainOriginal != nil || raw.ExplainOverlay != nil || raw.ExplainHeatmap != nil:
		return types.ShapeTriple
	case raw.ExplainImage != nil:
		return types.ShapeCombined
	case len(raw.Classes) == 0 && (len(raw.TopKLabels) > 0 || raw.Score != nil || raw.HeatmapB64 != nil):
		return types.ShapeTopK
	}
	return types.ShapePlain
}

// explanation builds the canonical triple. Older shapes only ever carried a
// combined image, which maps onto the overlay slot.
func explanation(shape types.ResponseShape, raw *types.WireResponse) *types.Explanation {
	var e types.Explanation
	switch shape {
	case types.ShapeTriple:
		e.Original = deref(raw.ExplainOriginal)
		e.Overlay = deref(raw.ExplainOverlay)
		e.Heatmap = deref(raw.ExplainHeatmap)
		if e.Overlay == "" {
			e.Overlay = deref(raw.ExplainImage)
		}
	case types.ShapeCombined:
		e.Overlay = deref(raw.ExplainImage)
	case types.ShapeTopK:
		e.Overlay = deref(raw.HeatmapB64)
	}
	if e.Empty() {
		return nil
	}
	return &e
}

func validateClasses(classes []string, probs []float64) error {
	if len(classes) != len(probs) {
		return fmt.Errorf("%w: %d classes but %d probabilities", ErrMalformed, len(classes), len(probs))
	}
	seen := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: duplicate class %q", ErrMalformed, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// alignTopK places score-sorted top-k pairs in taxonomy order. Labels the
// taxonomy does not know keep their server order at the end.
func alignTopK(task types.DiseaseTask, labels []string, scores []float64) ([]string, []float64) {
	n := len(labels)
	if len(scores) < n {
		n = len(scores)
	}
	byLabel := make(map[string]float64, n)
	for i := 0; i < n; i++ {
		byLabel[labels[i]] = scores[i]
	}

	classes := make([]string, 0, n)
	probs := make([]float64, 0, n)
	placed := make(map[string]bool, n)
	for _, c := range task.Taxonomy() {
		if p, ok := lookupFold(byLabel, c); ok {
			classes = append(classes, p.label)
			probs = append(probs, p.score)
			placed[p.label] = true
		}
	}
	for i := 0; i < n; i++ {
		if !placed[labels[i]] {
			classes = append(classes, labels[i])
			probs = append(probs, scores[i])
			placed[labels[i]] = true
		}
	}
	return classes, probs
}

type scored struct {
	label string
	score float64
}

func lookupFold(m map[string]float64, key string) (scored, bool) {
	if v, ok := m[key]; ok {
		return scored{key, v}, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return scored{k, v}, true
		}
	}
	return scored{}, false
}

func taxonomyWarning(task types.DiseaseTask, classes []string) string {
	tax := task.Taxonomy()
	if len(classes) == 0 || len(tax) == 0 {
		return ""
	}
	if len(classes) == len(tax) {
		same := true
		for i := range tax {
			if !strings.EqualFold(tax[i], classes[i]) {
				same = false
				break
			}
		}
		if same {
			return ""
		}
	}
	return fmt.Sprintf("classes %v do not match the %s taxonomy %v", classes, task, tax)
}

func indexOf(classes []string, label string) int {
	for i, c := range classes {
		if c == label {
			return i
		}
	}
	for i, c := range classes {
		if strings.EqualFold(c, label) {
			return i
		}
	}
	return -1
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
