package workflow

import (
	"context"

	"github.com/menta2k/pulmoscan/pkg/display"
	"github.com/menta2k/pulmoscan/pkg/types"
)

// Snapshot is the read-only state handed to the presentation layer
type Snapshot struct {
	Task              types.DiseaseTask         `json:"task"`
	HasFile           bool                      `json:"has_file"`
	FileName          string                    `json:"file_name,omitempty"`
	Preview           *types.PreviewHandle      `json:"preview,omitempty"`
	Phase             types.Phase               `json:"phase"`
	Result            *types.PredictionResponse `json:"result,omitempty"`
	Error             string                    `json:"error,omitempty"`
	Notice            string                    `json:"notice,omitempty"`
	View              types.ViewMode            `json:"view"`
	HasExplainability bool                      `json:"has_explainability"`
	ExplainSource     string                    `json:"explain_source,omitempty"`
	ExplainModes      []types.ViewMode          `json:"explain_modes,omitempty"`
	Rows              []display.Row             `json:"rows,omitempty"`
	Generation        uint64                    `json:"generation"`
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := Snapshot{
		Task:              o.task,
		Phase:             o.phase,
		Error:             o.errMsg,
		Notice:            o.notice,
		View:              o.view.Mode(),
		HasExplainability: o.view.Enabled(),
		ExplainSource:     o.view.ResolveSource(),
		ExplainModes:      o.view.Available(),
		Generation:        o.generation,
	}
	if asset := o.intake.Current(); asset != nil {
		s.HasFile = true
		s.FileName = asset.Name
		if asset.Preview != nil {
			p := *asset.Preview
			s.Preview = &p
		}
	}
	if o.result != nil {
		s.Result = o.result
		s.Rows = display.Rows(o.result)
	}
	return s
}

// Outcome is how a submission ended. Applied is false when a newer action
// superseded it before it resolved.
type Outcome struct {
	Applied bool
	Result  *types.PredictionResponse
	Err     error
}

// Submission tracks one issued prediction
type Submission struct {
	generation uint64
	requestID  string
	done       chan struct{}
	outcome    Outcome
}

func newSubmission(gen uint64, requestID string) *Submission {
	return &Submission{generation: gen, requestID: requestID, done: make(chan struct{})}
}

func (s *Submission) finish(out Outcome) {
	s.outcome = out
	close(s.done)
}

// Generation returns the generation captured when the submission was issued
func (s *Submission) Generation() uint64 {
	return s.generation
}

// RequestID returns the ID sent with the request
func (s *Submission) RequestID() string {
	return s.requestID
}

// Done is closed once the outcome is known
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the submission resolves or ctx ends
func (s *Submission) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
