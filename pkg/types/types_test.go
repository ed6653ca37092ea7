package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTask(t *testing.T) {
	tests := []struct {
		in   string
		want DiseaseTask
	}{
		{"pneumonia", TaskPneumonia},
		{"PNEUMONIA", TaskPneumonia},
		{" tuberculosis ", TaskTuberculosis},
		{"tb", TaskTuberculosis},
		{"TB", TaskTuberculosis},
		{"lung_cancer", TaskLungCancer},
		{"lungcancer", TaskLungCancer},
		{"lung-cancer", TaskLungCancer},
		{"Lung Cancer", TaskLungCancer},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTask(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTaskUnknown(t *testing.T) {
	_, err := ParseTask("covid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTask))
}

func TestTaxonomies(t *testing.T) {
	assert.Equal(t, []string{"NORMAL", "PNEUMONIA"}, TaskPneumonia.Taxonomy())
	assert.Equal(t, []string{"NORMAL", "TB"}, TaskTuberculosis.Taxonomy())
	assert.Equal(t, []string{"adenocarcinoma", "normal", "squamous"}, TaskLungCancer.Taxonomy())

	tax := TaskPneumonia.Taxonomy()
	tax[0] = "changed"
	assert.Equal(t, "NORMAL", TaskPneumonia.Taxonomy()[0], "Taxonomy must return a copy")
}

func TestTasksOrder(t *testing.T) {
	tasks := Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, DefaultTask, tasks[0])
	for _, task := range tasks {
		assert.True(t, task.Valid())
		assert.NotEmpty(t, task.Info().Title)
	}
	assert.False(t, DiseaseTask("covid").Valid())
}

func TestValidationError(t *testing.T) {
	err := error(&ValidationError{Reason: ReasonTooLarge, Size: 9, Limit: 8})
	assert.True(t, IsValidation(err, ReasonTooLarge))
	assert.False(t, IsValidation(err, ReasonNotAnImage))
	assert.Contains(t, err.Error(), "max 8")

	notImage := &ValidationError{Reason: ReasonNotAnImage}
	assert.Equal(t, "please select a valid image file", notImage.Error())
}

func TestNewRequestError(t *testing.T) {
	cause := errors.New("boom")

	err := NewRequestError(502, "", cause)
	assert.Equal(t, "prediction failed: HTTP 502", err.Error())
	assert.Equal(t, 502, err.StatusCode)
	assert.True(t, errors.Is(err, cause))

	err = NewRequestError(0, "", nil)
	assert.Equal(t, "prediction failed", err.Error())

	err = NewRequestError(400, "bad image", nil)
	assert.Equal(t, "bad image", err.Error())
}

func TestHasExplainability(t *testing.T) {
	var nilResp *PredictionResponse
	assert.False(t, nilResp.HasExplainability())

	r := &PredictionResponse{
		ExplainRequested: true,
		ExplainSupported: true,
		Explain:          &Explanation{Overlay: "b64"},
	}
	assert.True(t, r.HasExplainability())

	r.ExplainSupported = false
	assert.False(t, r.HasExplainability())

	r.ExplainSupported = true
	r.Explain = &Explanation{}
	assert.False(t, r.HasExplainability())
}

func TestViewModes(t *testing.T) {
	assert.Equal(t, []ViewMode{ViewOriginal, ViewOverlay, ViewHeatmap}, ViewModes())
	assert.Equal(t, ViewOverlay, DefaultViewMode)
	assert.False(t, ViewMode("xray").Valid())
}
