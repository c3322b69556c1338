package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-demos/internal/store"
	"github.com/keithlinneman/linnemanlabs-demos/internal/store/memstore"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, projects ...store.ProjectMetadata) *memstore.Metadata {
	t.Helper()
	m := memstore.NewMetadata()
	for i := range projects {
		if err := m.Put(&projects[i]); err != nil {
			t.Fatalf("Put(%q): %v", projects[i].Name, err)
		}
	}
	return m
}

func names(ps []store.ProjectMetadata) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// listOnly lists names that Get then reports missing or failing.
type listOnly struct {
	names  []string
	getErr error
}

func (l listOnly) Get(context.Context, string) (*store.ProjectMetadata, error) {
	return nil, l.getErr
}
func (l listOnly) List(context.Context) ([]string, error) { return l.names, nil }

// Ordering

func TestProjects_FeaturedFirstThenNewest(t *testing.T) {
	m := seed(t,
		store.ProjectMetadata{Name: "old", Updated: base.Add(-48 * time.Hour)},
		store.ProjectMetadata{Name: "new", Updated: base},
		store.ProjectMetadata{Name: "feat-old", Updated: base.Add(-72 * time.Hour), Featured: true},
		store.ProjectMetadata{Name: "feat-new", Updated: base.Add(-time.Hour), Featured: true},
	)
	c, err := New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := c.Projects(context.Background())
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	want := []string{"feat-new", "feat-old", "new", "old"}
	if !equal(names(got), want) {
		t.Fatalf("order = %v, want %v", names(got), want)
	}
}

func TestSort_TiesBreakByName(t *testing.T) {
	ps := []store.ProjectMetadata{
		{Name: "charlie", Updated: base},
		{Name: "alpha", Updated: base},
		{Name: "bravo", Updated: base},
	}
	Sort(ps)
	want := []string{"alpha", "bravo", "charlie"}
	if !equal(names(ps), want) {
		t.Fatalf("order = %v, want %v", names(ps), want)
	}
}

func TestProjects_Empty(t *testing.T) {
	c, _ := New(memstore.NewMetadata())
	got, err := c.Projects(context.Background())
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d projects, want 0", len(got))
	}
}

func TestProjects_KeepsAllFields(t *testing.T) {
	m := seed(t, store.ProjectMetadata{
		Name:        "demo-x",
		Description: "a <b>demo</b>",
		Updated:     base,
		GitHub:      "https://github.com/example/demo-x",
		Featured:    true,
	})
	c, _ := New(m)
	got, err := c.Projects(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("Projects = %v, %v", got, err)
	}
	p := got[0]
	if p.Description != "a <b>demo</b>" || p.GitHub != "https://github.com/example/demo-x" || !p.Featured || !p.Updated.Equal(base) {
		t.Fatalf("unexpected project %+v", p)
	}
}

// Failures

func TestProjects_SkipsVanishedProjects(t *testing.T) {
	c, _ := New(listOnly{names: []string{"gone"}, getErr: store.ErrNotFound})
	got, err := c.Projects(context.Background())
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, want none", names(got))
	}
}

func TestProjects_GetErrorFails(t *testing.T) {
	boom := errors.New("redis down")
	c, _ := New(listOnly{names: []string{"a", "b"}, getErr: boom})
	if _, err := c.Projects(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping %v", err, boom)
	}
}

func TestProjects_InvalidDocumentFails(t *testing.T) {
	m := memstore.NewMetadata()
	m.PutRaw("broken", []byte(`{"name":"broken","updated":"yesterday"}`))
	c, _ := New(m)
	if _, err := c.Projects(context.Background()); err == nil {
		t.Fatal("expected error for invalid metadata document")
	}
}

func TestProjects_CancelledContext(t *testing.T) {
	c, _ := New(seed(t, store.ProjectMetadata{Name: "a", Updated: base}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Projects(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// Construction

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil metadata store")
	}
}

func TestWithFetchConcurrency(t *testing.T) {
	c, _ := New(memstore.NewMetadata(), WithFetchConcurrency(2))
	if c.concurrency != 2 {
		t.Fatalf("concurrency = %d, want 2", c.concurrency)
	}
	c, _ = New(memstore.NewMetadata(), WithFetchConcurrency(0))
	if c.concurrency != DefaultFetchConcurrency {
		t.Fatalf("concurrency = %d, want default", c.concurrency)
	}
}
