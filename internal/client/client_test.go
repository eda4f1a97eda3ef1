package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/wondertwin-ai/taskjournal/internal/api"
	"github.com/wondertwin-ai/taskjournal/internal/client"
	"github.com/wondertwin-ai/taskjournal/internal/store"
	"github.com/wondertwin-ai/taskjournal/pkg/admin"
	"github.com/wondertwin-ai/taskjournal/pkg/twincore"
)

func newServer(t *testing.T) *client.Client {
	t.Helper()
	memStore := store.New(store.DefaultSeed())
	twin := twincore.New(&twincore.Config{Name: "taskjournal-client-test"})
	api.NewHandler(memStore, twin.Middleware(), api.Options{}).Routes(twin.Router)
	admin.NewHandler(memStore, twin.Middleware(), memStore.Clock).Routes(twin.Router)
	srv := httptest.NewServer(twin)
	t.Cleanup(srv.Close)
	return client.New(srv.URL + "/")
}

func TestCreateGetPutDelete(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	created, err := c.Create(ctx, "journals", map[string]string{"title": "a", "data": "b"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != 10 || created.Location != "/journals/10" || created.ETag == "" {
		t.Errorf("unexpected created entry: %+v", created)
	}

	got, err := c.Get(ctx, "journals", created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ETag != created.ETag {
		t.Errorf("expected etag %s, got %s", created.ETag, got.ETag)
	}

	updated, err := c.Put(ctx, "journals", created.ID, map[string]string{"title": "a2"}, got.ETag)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if updated.ETag == got.ETag {
		t.Error("expected a new etag after update")
	}

	_, err = c.Put(ctx, "journals", created.ID, map[string]string{"title": "a3"}, got.ETag)
	var se *client.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %v", err)
	}

	if err := c.Delete(ctx, "journals", created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = c.Get(ctx, "journals", created.ID)
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %v", err)
	}
}

func TestListWithFilter(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	p, err := c.List(ctx, "tasks", client.ListOptions{PerPage: 3, Page: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if p.Page != 2 || p.TotalEntries != 10 || p.TotalPages != 4 || len(p.Entries) != 3 {
		t.Errorf("unexpected page: %+v", p)
	}

	p, err = c.List(ctx, "tasks", client.ListOptions{Filter: `text == "Do the 7"`})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if p.TotalEntries != 1 {
		t.Errorf("expected 1 match, got %d", p.TotalEntries)
	}

	_, err = c.List(ctx, "tasks", client.ListOptions{Filter: "done =="})
	var se *client.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad filter, got %v", err)
	}
}

func TestPatchAndMerge(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	task, _ := c.Get(ctx, "tasks", 0)
	if _, err := c.PatchTask(ctx, 0, map[string]bool{"done": true}, task.ETag); err != nil {
		t.Fatalf("patch: %v", err)
	}

	result, err := c.Merge(ctx, []int{0, 1, 99})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if result.Location != "/tasks/10" {
		t.Errorf("unexpected location %s", result.Location)
	}
	if len(result.Merged) != 2 || len(result.Missing) != 1 || result.Missing[0] != 99 {
		t.Errorf("unexpected merge result: %+v", result)
	}
	var merged store.Task
	if err := json.Unmarshal(result.Task, &merged); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if merged.Text != "Do the 0\nDo the 1" || merged.Done {
		t.Errorf("unexpected merged task: %+v", merged)
	}
}

func TestAdminCalls(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	if ok, msg := c.Health(ctx); !ok {
		t.Errorf("expected healthy, got %s", msg)
	}

	c.Delete(ctx, "tasks", 0)
	if _, err := c.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := c.Get(ctx, "tasks", 0); err != nil {
		t.Errorf("expected seed restored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "state.json")
	os.WriteFile(path, []byte(`{"journals":[],"tasks":[{"id":3,"payload":{"text":"only","done":false}}]}`), 0o644)
	if _, err := c.LoadState(ctx, path); err != nil {
		t.Fatalf("load state: %v", err)
	}
	p, _ := c.List(ctx, "tasks", client.ListOptions{})
	if p.TotalEntries != 1 {
		t.Errorf("expected 1 task after load, got %d", p.TotalEntries)
	}

	if _, err := c.LoadState(ctx, filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing state file")
	}
}

func TestHealthUnreachable(t *testing.T) {
	c := client.New("http://127.0.0.1:1")
	if ok, _ := c.Health(context.Background()); ok {
		t.Error("expected unreachable server to be unhealthy")
	}
}
