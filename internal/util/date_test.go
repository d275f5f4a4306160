package util

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWeekBounds(t *testing.T) {
	tests := []struct {
		name      string
		in        time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{name: "monday", in: date(2024, 2, 5), wantStart: date(2024, 2, 5), wantEnd: date(2024, 2, 11)},
		{name: "wednesday", in: date(2024, 2, 7), wantStart: date(2024, 2, 5), wantEnd: date(2024, 2, 11)},
		{name: "sunday", in: date(2024, 2, 11), wantStart: date(2024, 2, 5), wantEnd: date(2024, 2, 11)},
		{name: "crosses year", in: date(2024, 12, 31), wantStart: date(2024, 12, 30), wantEnd: date(2025, 1, 5)},
		{name: "time of day ignored", in: time.Date(2024, 2, 6, 23, 59, 0, 0, time.UTC), wantStart: date(2024, 2, 5), wantEnd: date(2024, 2, 11)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeekStart(tt.in); !got.Equal(tt.wantStart) {
				t.Errorf("WeekStart() = %v, want %v", got, tt.wantStart)
			}
			if got := WeekEnd(tt.in); !got.Equal(tt.wantEnd) {
				t.Errorf("WeekEnd() = %v, want %v", got, tt.wantEnd)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "valid", in: "2024-02-05"},
		{name: "bad format", in: "05/02/2024", wantErr: true},
		{name: "empty", in: "", wantErr: true},
		{name: "impossible day", in: "2024-02-30", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && FormatDate(got) != tt.in {
				t.Errorf("round trip = %s, want %s", FormatDate(got), tt.in)
			}
		})
	}
}

func TestWithinIsClosed(t *testing.T) {
	from, to := date(2024, 2, 5), date(2024, 2, 7)
	if !Within(from, from, to) || !Within(to, from, to) {
		t.Error("boundaries must be included")
	}
	if Within(date(2024, 2, 4), from, to) || Within(date(2024, 2, 8), from, to) {
		t.Error("outside dates must be excluded")
	}
	if !Within(time.Date(2024, 2, 7, 18, 0, 0, 0, time.UTC), from, to) {
		t.Error("time of day on the last day must be included")
	}
}
