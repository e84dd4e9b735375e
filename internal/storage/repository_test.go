package storage

import (
	"context"
	"strings"
	"testing"
)

type stubRepo struct{ Repository }

// Not parallel: mutates the package registry.
func TestRegisterAndNew(t *testing.T) {
	const kind = "stub-registry-test"
	var got Config
	Register(kind, func(_ context.Context, cfg Config) (Repository, error) {
		got = cfg
		return stubRepo{}, nil
	})
	t.Cleanup(func() {
		mu.Lock()
		delete(factories, kind)
		mu.Unlock()
	})

	if _, err := New(context.Background(), Config{Kind: kind, DSN: "x"}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if got.DSN != "x" {
		t.Fatalf("factory saw cfg=%+v", got)
	}

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("want error for empty kind")
	}
	_, err := New(context.Background(), Config{Kind: "nope"})
	if err == nil || !strings.Contains(err.Error(), kind) {
		t.Fatalf("err=%v, want it to list registered kinds", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("duplicate Register should panic")
		}
	}()
	Register(kind, func(context.Context, Config) (Repository, error) { return nil, nil })
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{in: nil, want: ""},
		{in: " Dairy ", want: "Dairy"},
		{in: []byte("Bakery"), want: "Bakery"},
		{in: int64(42), want: "42"},
		{in: 7, want: "7"},
		{in: 1.5, want: "1.5"},
	}
	for _, tc := range tests {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Fatalf("NormalizeKey(%#v)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSchema_EveryTableHasItsPrimaryKeyColumn(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, ts := range Schema {
		if seen[ts.Name] {
			t.Fatalf("duplicate table %s", ts.Name)
		}
		seen[ts.Name] = true

		found := false
		for _, c := range ts.Columns {
			if c.Name == ts.PrimaryKey {
				found = true
				if !ts.NaturalKey && c.Type != TypeID {
					t.Fatalf("%s.%s should be TypeID", ts.Name, c.Name)
				}
			}
		}
		if !found {
			t.Fatalf("%s: primary key %q not among columns", ts.Name, ts.PrimaryKey)
		}
	}
	if len(seen) != 10 {
		t.Fatalf("tables=%d, want 10", len(seen))
	}
}
