// Package store defines the journal and task payloads and the in-memory
// state that backs the API.
package store

import (
	"encoding/json"
	"errors"
)

// ErrBrokenJSON is returned by DecodeTaskPatch when the body is not a JSON
// object.
var ErrBrokenJSON = errors.New("broken json")

// Journal is a journal entry payload.
type Journal struct {
	Title string `json:"title" yaml:"title" expr:"title"`
	Data  string `json:"data" yaml:"data" expr:"data"`
}

// Task is a to-do item payload.
type Task struct {
	Text string `json:"text" yaml:"text" expr:"text"`
	Done bool   `json:"done" yaml:"done" expr:"done"`
}

// TaskPatch is a partial task update. Nil fields are left alone.
type TaskPatch struct {
	Text *string `json:"text"`
	Done *bool   `json:"done"`
}

// Apply returns t with the present fields replaced, and whether any field
// was present at all.
func (p TaskPatch) Apply(t Task) (Task, bool) {
	present := false
	if p.Text != nil {
		t.Text = *p.Text
		present = true
	}
	if p.Done != nil {
		t.Done = *p.Done
		present = true
	}
	return t, present
}

// DecodeTaskPatch reads a partial task from a JSON object. Fields with the
// wrong type are ignored rather than rejected, so {"done":"yes"} is a patch
// with nothing in it.
func DecodeTaskPatch(data []byte) (TaskPatch, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return TaskPatch{}, ErrBrokenJSON
	}
	var p TaskPatch
	if text, ok := raw["text"].(string); ok {
		p.Text = &text
	}
	if done, ok := raw["done"].(bool); ok {
		p.Done = &done
	}
	return p, nil
}
