package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wondertwin-ai/taskjournal/pkg/etag"
	pkgstore "github.com/wondertwin-ai/taskjournal/pkg/store"
	"github.com/wondertwin-ai/taskjournal/pkg/twincore"
)

// maxBodyBytes bounds request bodies read before any store lock is taken.
const maxBodyBytes = 1 << 20

// entry renders a resource as its payload fields plus "id".
type entry[T any] pkgstore.Resource[T]

func (e entry[T]) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["id"] = e.ID
	return json.Marshal(fields)
}

// resource serves one collection. kind names its webhook events, e.g.
// "journal" for journal.created.
type resource[T any] struct {
	h     *Handler
	name  string
	kind  string
	store *pkgstore.Store[T]
}

func newResource[T any](h *Handler, name, kind string, s *pkgstore.Store[T]) *resource[T] {
	return &resource[T]{h: h, name: name, kind: kind, store: s}
}

func (res *resource[T]) routes(r chi.Router) {
	r.Get("/", res.list)
	r.With(res.h.requireToken).Post("/", res.create)
	r.Get("/{id}", res.get)
	r.Put("/{id}", res.put)
	r.Delete("/{id}", res.delete)
}

func (res *resource[T]) location(id int) string {
	return fmt.Sprintf("/%s/%d", res.name, id)
}

func parseID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return 0, pkgstore.ErrNotFound
	}
	return id, nil
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest("read body: %v", err)
	}
	return data, nil
}

func decodePayload[T any](r *http.Request) (T, error) {
	var payload T
	data, err := readBody(r)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, badRequest("invalid JSON payload: %v", err)
	}
	return payload, nil
}

func writeResource[T any](w http.ResponseWriter, status int, r pkgstore.Resource[T]) {
	w.Header().Set("ETag", etag.Quote(r.ETag))
	twincore.JSON(w, status, entry[T](r))
}

// list handles GET /{collection}?page=&per_page=&filter=
func (res *resource[T]) list(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := res.h.pageParams(r)
	if err != nil {
		res.h.observe(res.name, "list", err)
		writeStoreError(w, err)
		return
	}
	keep, err := compileFilter[T](r.URL.Query().Get("filter"))
	if err != nil {
		res.h.observe(res.name, "list", err)
		writeStoreError(w, err)
		return
	}

	p, err := res.store.Page(page, perPage, keep)
	res.h.observe(res.name, "list", err)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	twincore.JSON(w, http.StatusOK, pkgstore.Map(p, func(r pkgstore.Resource[T]) entry[T] {
		return entry[T](r)
	}))
}

// create handles POST /{collection}
func (res *resource[T]) create(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload[T](r)
	if err != nil {
		res.h.observe(res.name, "create", err)
		writeStoreError(w, err)
		return
	}

	created, err := res.store.Create(payload)
	res.h.observe(res.name, "create", err)
	if err != nil {
		res.h.logger.Error("create failed", "collection", res.name, "err", err)
		writeStoreError(w, err)
		return
	}

	res.h.emit(res.kind+".created", entry[T](created))
	w.Header().Set("Location", res.location(created.ID))
	writeResource(w, http.StatusCreated, created)
}

// get handles GET /{collection}/{id}
func (res *resource[T]) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	found, err := res.store.Get(id)
	res.h.observe(res.name, "get", err)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeResource(w, http.StatusOK, found)
}

// put handles PUT /{collection}/{id}. An absent id is inserted without an
// etag check.
func (res *resource[T]) put(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	payload, err := decodePayload[T](r)
	if err != nil {
		res.h.observe(res.name, "put", err)
		writeStoreError(w, err)
		return
	}

	stored, inserted, err := res.store.Upsert(id, payload, etag.Parse(r.Header.Get("If-Match")))
	res.h.observe(res.name, "put", err)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	event := res.kind + ".updated"
	if inserted {
		event = res.kind + ".created"
		w.Header().Set("Location", res.location(stored.ID))
	}
	res.h.emit(event, entry[T](stored))
	writeResource(w, http.StatusOK, stored)
}

// delete handles DELETE /{collection}/{id}
func (res *resource[T]) delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	err = res.store.Delete(id)
	res.h.observe(res.name, "delete", err)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	res.h.emit(res.kind+".deleted", map[string]any{"id": id})
	twincore.JSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"deleted": true,
	})
}

func (h *Handler) pageParams(r *http.Request) (page, perPage int, err error) {
	page, err = intParam(r, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	perPage, err = intParam(r, "per_page", h.perPage)
	if err != nil {
		return 0, 0, err
	}
	return page, perPage, nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("%s must be an integer", name)
	}
	if n < 1 {
		return 0, pkgstore.ErrInvalidPage
	}
	return n, nil
}
