package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wondertwin-ai/taskjournal/internal/store"
	"github.com/wondertwin-ai/taskjournal/pkg/etag"
	pkgstore "github.com/wondertwin-ai/taskjournal/pkg/store"
	"github.com/wondertwin-ai/taskjournal/pkg/twincore"
	"github.com/wondertwin-ai/taskjournal/pkg/webhook"
)

// PatchTask handles PATCH /tasks/{id}. Only text and done are recognized;
// the body is parsed after the etag check.
func (h *Handler) PatchTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "No such resource")
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	updated, err := h.store.Tasks.Patch(id, etag.Parse(r.Header.Get("If-Match")), func(t store.Task) (store.Task, bool, error) {
		p, err := store.DecodeTaskPatch(body)
		if err != nil {
			return t, false, err
		}
		next, present := p.Apply(t)
		return next, present, nil
	})
	h.observe("tasks", "patch", err)
	switch {
	case err == nil:
	case errors.Is(err, pkgstore.ErrNotFound):
		twincore.Error(w, http.StatusBadRequest, "No such resource")
		return
	case errors.Is(err, store.ErrBrokenJSON):
		twincore.Error(w, http.StatusBadRequest, "Broken json")
		return
	default:
		writeStoreError(w, err)
		return
	}

	h.emit(webhook.TaskUpdated, entry[store.Task](updated))
	writeResource(w, http.StatusOK, updated)
}

type mergeRequest struct {
	IDs []int `json:"ids"`
}

// MergeTasks handles POST /task_merger
func (h *Handler) MergeTasks(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	var req mergeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.observe("tasks", "merge", errBadRequest)
		writeStoreError(w, badRequest("invalid merge request: %v", err))
		return
	}
	if req.IDs == nil {
		h.observe("tasks", "merge", errBadRequest)
		writeStoreError(w, badRequest("ids is required"))
		return
	}

	result, err := h.store.MergeTasks(req.IDs)
	h.observe("tasks", "merge", err)
	if err != nil {
		h.logger.Error("merge failed", "ids", req.IDs, "err", err)
		writeStoreError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveMerge()
	}
	h.logger.Info("tasks merged",
		"id", result.Task.ID,
		"merged", result.Merged,
		"missing", result.Missing,
	)

	created := entry[store.Task](result.Task)
	h.emit(webhook.TaskMerged, map[string]any{
		"task":    created,
		"merged":  result.Merged,
		"missing": result.Missing,
	})

	w.Header().Set("Location", h.tasks.location(result.Task.ID))
	w.Header().Set("ETag", etag.Quote(result.Task.ETag))
	twincore.JSON(w, http.StatusCreated, map[string]any{
		"task":    created,
		"merged":  result.Merged,
		"missing": result.Missing,
	})
}
