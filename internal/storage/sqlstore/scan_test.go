package sqlstore

import (
	"testing"
	"time"
)

func TestParseTime_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{name: "rfc3339nano", in: "2026-01-27T12:17:08.123456789Z", want: time.Date(2026, 1, 27, 12, 17, 8, 123456789, time.UTC)},
		{name: "rfc3339_offset", in: "2026-01-27T14:17:08+02:00", want: time.Date(2026, 1, 27, 12, 17, 8, 0, time.UTC)},
		{name: "space_tz", in: "2026-01-27 12:17:08+00:00", want: time.Date(2026, 1, 27, 12, 17, 8, 0, time.UTC)},
		{name: "space_no_tz_assume_utc", in: "2026-01-27 12:17:08", want: time.Date(2026, 1, 27, 12, 17, 8, 0, time.UTC)},
		{name: "space_fraction", in: "2026-01-27 12:17:08.5", want: time.Date(2026, 1, 27, 12, 17, 8, 500000000, time.UTC)},
		{name: "date_only", in: "2026-01-27", want: time.Date(2026, 1, 27, 0, 0, 0, 0, time.UTC)},
		{name: "padded", in: "  2026-01-27  ", want: time.Date(2026, 1, 27, 0, 0, 0, 0, time.UTC)},
		{name: "empty", in: " ", wantErr: true},
		{name: "invalid", in: "not-a-time", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTime(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Fatalf("ParseTime(%q)=%s want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNullTime_Scan(t *testing.T) {
	t.Parallel()

	var n nullTime
	if err := n.Scan(nil); err != nil || n.Valid || n.Ptr() != nil {
		t.Fatalf("nil: err=%v valid=%v", err, n.Valid)
	}

	loc := time.FixedZone("X", 3600)
	if err := n.Scan(time.Date(2024, 5, 1, 1, 0, 0, 0, loc)); err != nil {
		t.Fatalf("time: %v", err)
	}
	if !n.Valid || n.Time.Location() != time.UTC || n.Time.Hour() != 0 {
		t.Fatalf("time not normalized to UTC: %v", n.Time)
	}

	if err := n.Scan([]byte("2024-05-01 10:00:00")); err != nil || n.Time.Hour() != 10 {
		t.Fatalf("bytes: err=%v t=%v", err, n.Time)
	}
	if err := n.Scan(int64(5)); err == nil {
		t.Fatalf("want error scanning int64")
	}
}
