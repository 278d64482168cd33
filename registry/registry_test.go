package registry

import (
	"comicwatch/fetch"
	"comicwatch/pkg/notifier"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
)

type stubAdapter struct{}

func (stubAdapter) Fetch(context.Context) (*notifier.Post, error) {
	return &notifier.Post{UniqueID: "1"}, nil
}

func TestNewRejectsBadCatalogs(t *testing.T) {
	tests := []struct {
		name    string
		sources []Source
	}{
		{"duplicate slug", []Source{{ID: "a", Adapter: stubAdapter{}}, {ID: "a", Adapter: stubAdapter{}}}},
		{"empty slug", []Source{{ID: "", Adapter: stubAdapter{}}}},
		{"uppercase slug", []Source{{ID: "XKCD", Adapter: stubAdapter{}}}},
		{"missing adapter", []Source{{ID: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.sources...); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

func TestListAndLookup(t *testing.T) {
	r, err := New(
		Source{ID: "c", DisplayName: "C", Adapter: stubAdapter{}},
		Source{ID: "a", DisplayName: "A", Adapter: stubAdapter{}},
		Source{ID: "b", DisplayName: "B", Adapter: stubAdapter{}},
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	list := r.List()
	var order []string
	for _, s := range list {
		order = append(order, s.ID)
	}
	if got, want := len(order), 3; got != want {
		t.Fatalf("List() returned %d sources, want %d", got, want)
	}
	if order[0] != "c" || order[1] != "a" || order[2] != "b" {
		t.Errorf("List() order = %v, want [c a b]", order)
	}

	// Mutating the returned slice must not affect the registry.
	list[0] = Source{ID: "zzz"}
	if r.List()[0].ID != "c" {
		t.Error("List() exposed internal slice")
	}

	s, err := r.Lookup("a")
	if err != nil || s.DisplayName != "A" {
		t.Errorf("Lookup(a) = %+v, %v", s, err)
	}
	if _, err := r.Lookup("missing"); !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("Lookup(missing) error = %v, want ErrSourceNotFound", err)
	}
}

func TestCatalog(t *testing.T) {
	client := fetch.NewClient(http.DefaultClient, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r, err := Catalog(client, DefaultURLs())
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	for _, slug := range []string{"twokinds", "avasdemon", "xkcd", "mylifewithfel", "killsixbilliondemons", "discordstatus"} {
		if _, err := r.Lookup(slug); err != nil {
			t.Errorf("Lookup(%q) error = %v", slug, err)
		}
	}
}
