package types

// File is an image handed to intake by the user
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Size returns the byte length of the file
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// PreviewHandle is a displayable resource derived from an uploaded image
type PreviewHandle struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	DataURI  string `json:"data_uri"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// ImageAsset is a validated upload together with its preview
type ImageAsset struct {
	Name     string
	MimeType string
	Data     []byte
	Size     int64
	Width    int
	Height   int
	Preview  *PreviewHandle
}

// PredictionRequest is what gets sent to the prediction service
type PredictionRequest struct {
	ID       string
	Task     DiseaseTask
	Filename string
	MimeType string
	Image    []byte
	Explain  bool
}

// WireResponse is the service payload before normalization. Every field is
// optional because three generations of the service answer differently.
type WireResponse struct {
	Label            string    `json:"label,omitempty"`
	Confidence       *float64  `json:"confidence,omitempty"`
	Classes          []string  `json:"classes,omitempty"`
	Probs            []float64 `json:"probs,omitempty"`
	Filename         string    `json:"filename,omitempty"`
	ExplainRequested *bool     `json:"explain_requested,omitempty"`
	ExplainSupported *bool     `json:"explain_supported,omitempty"`

	// triple shape
	ExplainOriginal *string `json:"explain_original,omitempty"`
	ExplainOverlay  *string `json:"explain_overlay,omitempty"`
	ExplainHeatmap  *string `json:"explain_heatmap,omitempty"`

	// combined shape
	ExplainImage *string `json:"explain_image,omitempty"`

	// top-k shape
	Disease    string    `json:"disease,omitempty"`
	Score      *float64  `json:"score,omitempty"`
	TopKLabels []string  `json:"topk_labels,omitempty"`
	TopKScores []float64 `json:"topk_scores,omitempty"`
	HeatmapB64 *string   `json:"heatmap_b64,omitempty"`
}

// ResponseShape tags which payload generation a response came from
type ResponseShape string

const (
	ShapeTriple   ResponseShape = "triple"
	ShapeCombined ResponseShape = "combined"
	ShapeTopK     ResponseShape = "topk"
	ShapePlain    ResponseShape = "plain"
)

// Explanation holds the base64 encoded explanation images of one prediction.
// Empty strings mean absent.
type Explanation struct {
	Original string `json:"original,omitempty"`
	Overlay  string `json:"overlay,omitempty"`
	Heatmap  string `json:"heatmap,omitempty"`
}

// Empty reports whether no explanation image is present
func (e Explanation) Empty() bool {
	return e.Original == "" && e.Overlay == "" && e.Heatmap == ""
}

// PredictionResponse is the canonical response all downstream code consumes
type PredictionResponse struct {
	Task             DiseaseTask   `json:"task"`
	Label            string        `json:"label"`
	Confidence       float64       `json:"confidence"`
	Classes          []string      `json:"classes"`
	Probs            []float64     `json:"probs"`
	Filename         string        `json:"filename"`
	ExplainRequested bool          `json:"explain_requested"`
	ExplainSupported bool          `json:"explain_supported"`
	Explain          *Explanation  `json:"explain,omitempty"`
	Shape            ResponseShape `json:"shape"`
	Warnings         []string      `json:"warnings,omitempty"`
}

// HasExplainability reports whether explanation UI may be shown for r
func (r *PredictionResponse) HasExplainability() bool {
	if r == nil || !r.ExplainRequested || !r.ExplainSupported || r.Explain == nil {
		return false
	}
	return !r.Explain.Empty()
}

// ViewMode selects which explanation variant is displayed
type ViewMode string

const (
	ViewOverlay  ViewMode = "overlay"
	ViewOriginal ViewMode = "original"
	ViewHeatmap  ViewMode = "heatmap"
)

// DefaultViewMode is the mode a fresh result starts in
const DefaultViewMode = ViewOverlay

// ViewModes lists the modes in display order
func ViewModes() []ViewMode {
	return []ViewMode{ViewOriginal, ViewOverlay, ViewHeatmap}
}

// Valid reports whether m is a known view mode
func (m ViewMode) Valid() bool {
	switch m {
	case ViewOverlay, ViewOriginal, ViewHeatmap:
		return true
	}
	return false
}

// Phase is the workflow state
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseReady      Phase = "ready"
	PhaseSubmitting Phase = "submitting"
	PhaseSettled    Phase = "settled"
	PhaseError      Phase = "error"
)
