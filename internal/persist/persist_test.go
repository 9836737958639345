package persist

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	_ "github.com/mattn/go-sqlite3"
)

func TestDsnFromPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/tmp/markers.db", "file:///tmp/markers.db?k=v"},
		{"file:/tmp/markers.db", "file:///tmp/markers.db?k=v"},
	}
	for _, tc := range cases {
		got, err := dsnFromPath(tc.path, url.Values{"k": {"v"}})
		if err != nil {
			t.Fatalf("dsnFromPath(%q): %v", tc.path, err)
		}
		if got != tc.want {
			t.Errorf("dsnFromPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "markers.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Mark(ctx, "m1"); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if err := db.Mark(ctx, "m2"); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	// Marking twice is a no-op.
	if err := db.Mark(ctx, "m1"); err != nil {
		t.Fatalf("Mark again: %v", err)
	}
	if err := db.Unmark(ctx, "m2"); err != nil {
		t.Fatalf("Unmark: %v", err)
	}

	set, err := db.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if diff := cmp.Diff(map[string]bool{"m1": true}, set); diff != "" {
		t.Errorf("marker set mismatch (-want +got):\n%s", diff)
	}
}

func TestToggle(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "markers.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	on, err := db.Toggle(ctx, "m1")
	if err != nil || !on {
		t.Fatalf("first Toggle = (%v, %v), want (true, nil)", on, err)
	}
	off, err := db.Toggle(ctx, "m1")
	if err != nil || off {
		t.Fatalf("second Toggle = (%v, %v), want (false, nil)", off, err)
	}

	set, err := db.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(set) != 0 {
		t.Errorf("marker set = %v, want empty after toggling off", set)
	}
}
