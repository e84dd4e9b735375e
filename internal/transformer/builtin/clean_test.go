package builtin

import "testing"

func TestCleanString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{in: "", want: ""},
		{in: "  Whole   Milk\t2L \n", want: "Whole Milk 2L"},
		{in: " Bread ", want: "Bread"},
		{in: "plain", want: "plain"},
	}
	for _, tc := range tests {
		if got := CleanString(tc.in); got != tc.want {
			t.Fatalf("CleanString(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCleanPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "$4.99", want: "4.99", wantOK: true},
		{in: "4,5", want: "4.5", wantOK: true},
		{in: "CAD 12.345", want: "12.35", wantOK: true},
		{in: "0", want: "0", wantOK: true},
		{in: "1.234.5", want: "0", wantOK: false},
		{in: "n/a", want: "0", wantOK: false},
		{in: "", want: "0", wantOK: false},
	}
	for _, tc := range tests {
		got, ok := CleanPrice(tc.in)
		if ok != tc.wantOK || got.String() != tc.want {
			t.Fatalf("CleanPrice(%q)=(%s,%v), want (%s,%v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestLimit(t *testing.T) {
	t.Parallel()

	if got := Limit("Crème fraîche", 5); got != "Crème" {
		t.Fatalf("got %q", got)
	}
	if got := Limit("abc", 10); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := Limit("abc", 0); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{in: "Crème Brûlée", want: "creme-brulee"},
		{in: "  Dairy & Eggs!! ", want: "dairy-eggs"},
		{in: "2% Milk (4L)", want: "2-milk-4l"},
		{in: "---", want: ""},
	}
	for _, tc := range tests {
		if got := Slugify(tc.in); got != tc.want {
			t.Fatalf("Slugify(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHasEdgeSpace(t *testing.T) {
	t.Parallel()

	if HasEdgeSpace("") || HasEdgeSpace("a b") {
		t.Fatalf("false positives")
	}
	if !HasEdgeSpace(" a") || !HasEdgeSpace("a\t") {
		t.Fatalf("false negatives")
	}
}

func TestStoreForProvince(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{in: "British Columbia", want: "BC Retail"},
		{in: "Prince Edward Island", want: "PEI Retail"},
		{in: "Newfoundland and Labrador", want: "Newfoundland Retail"},
		{in: "Texas", want: "Texas Store"},
		{in: "", want: "Unknown Store"},
	}
	for _, tc := range tests {
		if got := StoreForProvince(tc.in); got != tc.want {
			t.Fatalf("StoreForProvince(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}
