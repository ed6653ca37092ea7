package types

import (
	"fmt"
	"strings"
)

// DiseaseTask identifies one classification model on the service
type DiseaseTask string

const (
	TaskPneumonia    DiseaseTask = "pneumonia"
	TaskTuberculosis DiseaseTask = "tuberculosis"
	TaskLungCancer   DiseaseTask = "lung_cancer"
)

// DefaultTask is selected when nothing else was asked for
const DefaultTask = TaskPneumonia

// TaskInfo describes a task for display
type TaskInfo struct {
	Title    string
	Blurb    string
	Hint     string
	Taxonomy []string
}

var tasks = map[DiseaseTask]TaskInfo{
	TaskPneumonia: {
		Title:    "Pneumonia",
		Blurb:    "Binary classification: NORMAL vs PNEUMONIA.",
		Hint:     "Best with frontal chest X-rays.",
		Taxonomy: []string{"NORMAL", "PNEUMONIA"},
	},
	TaskTuberculosis: {
		Title:    "Tuberculosis",
		Blurb:    "Binary classification: NORMAL vs TB.",
		Hint:     "X-rays with clear lung fields recommended.",
		Taxonomy: []string{"NORMAL", "TB"},
	},
	TaskLungCancer: {
		Title:    "Lung Cancer",
		Blurb:    "3-class: adenocarcinoma, normal, squamous cell carcinoma.",
		Hint:     "Use high-quality scans or pathology tiles.",
		Taxonomy: []string{"adenocarcinoma", "normal", "squamous"},
	},
}

// Tasks returns all tasks in selector order
func Tasks() []DiseaseTask {
	return []DiseaseTask{TaskPneumonia, TaskTuberculosis, TaskLungCancer}
}

// Valid reports whether t is a known task
func (t DiseaseTask) Valid() bool {
	_, ok := tasks[t]
	return ok
}

// Info returns display metadata for t
func (t DiseaseTask) Info() TaskInfo {
	return tasks[t]
}

// Taxonomy returns a copy of the ordered class labels of t
func (t DiseaseTask) Taxonomy() []string {
	tax := tasks[t].Taxonomy
	out := make([]string, len(tax))
	copy(out, tax)
	return out
}

func (t DiseaseTask) String() string {
	return string(t)
}

// ParseTask maps user input, including the short aliases used in links,
// onto a task
func ParseTask(s string) (DiseaseTask, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	switch key {
	case "tb":
		return TaskTuberculosis, nil
	case "lung cancer", "lungcancer", "lung-cancer":
		return TaskLungCancer, nil
	}
	t := DiseaseTask(key)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, s)
	}
	return t, nil
}
