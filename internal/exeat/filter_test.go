package exeat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type fakeSource struct {
	exeats map[string][]Exeat
	calls  int
	err    error
}

func (f *fakeSource) ListExeatsForStudent(_ context.Context, studentID string) ([]Exeat, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.exeats[studentID], nil
}

func TestCoversClosedInterval(t *testing.T) {
	leave := []Exeat{{StudentID: "s1", StartDate: day("2024-02-05"), EndDate: day("2024-02-07"), Status: StatusActive}}

	tests := []struct {
		name string
		date string
		want bool
	}{
		{name: "day before start", date: "2024-02-04", want: false},
		{name: "start boundary", date: "2024-02-05", want: true},
		{name: "inside", date: "2024-02-06", want: true},
		{name: "end boundary", date: "2024-02-07", want: true},
		{name: "day after end", date: "2024-02-08", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Covers(leave, day(tt.date)))
		})
	}
}

func TestCoversIgnoresCanceledButNotEnded(t *testing.T) {
	canceled := []Exeat{{StartDate: day("2024-02-05"), EndDate: day("2024-02-09"), Status: StatusCanceled}}
	assert.False(t, Covers(canceled, day("2024-02-06")))

	ended := []Exeat{{StartDate: day("2024-02-05"), EndDate: day("2024-02-09"), Status: StatusEnded}}
	assert.True(t, Covers(ended, day("2024-02-06")))

	mixed := append(canceled, Exeat{StartDate: day("2024-02-06"), EndDate: day("2024-02-06"), Status: StatusActive})
	assert.True(t, Covers(mixed, day("2024-02-06")))
	assert.False(t, Covers(nil, day("2024-02-06")))
}

func TestDerivedStatus(t *testing.T) {
	e := Exeat{StartDate: day("2024-02-05"), EndDate: day("2024-02-07"), Status: StatusActive}

	tests := []struct {
		name string
		e    Exeat
		now  time.Time
		want Derived
	}{
		{name: "not started yet counts as active", e: e, now: day("2024-02-01"), want: DerivedActive},
		{name: "in progress", e: e, now: day("2024-02-06"), want: DerivedActive},
		{name: "late on the last day", e: e, now: time.Date(2024, 2, 7, 23, 59, 0, 0, time.UTC), want: DerivedActive},
		{name: "day after end", e: e, now: day("2024-02-08"), want: DerivedPast},
		{name: "canceled stays canceled", e: Exeat{StartDate: e.StartDate, EndDate: e.EndDate, Status: StatusCanceled}, now: day("2024-03-01"), want: DerivedCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DerivedStatus(tt.e, tt.now))
		})
	}
}

func TestFilterIsCovered(t *testing.T) {
	src := &fakeSource{exeats: map[string][]Exeat{
		"s1": {{StudentID: "s1", StartDate: day("2024-02-05"), EndDate: day("2024-02-09"), Status: StatusActive}},
	}}
	f := NewFilter(src)

	covered, err := f.IsCovered(context.Background(), "s1", day("2024-02-09"))
	require.NoError(t, err)
	assert.True(t, covered)

	covered, err = f.IsCovered(context.Background(), "s2", day("2024-02-09"))
	require.NoError(t, err)
	assert.False(t, covered)

	src.err = errors.New("db down")
	_, err = f.IsCovered(context.Background(), "s1", day("2024-02-09"))
	assert.Error(t, err)
}

func TestMemoLoadsOncePerStudent(t *testing.T) {
	src := &fakeSource{exeats: map[string][]Exeat{
		"s1": {{StudentID: "s1", StartDate: day("2024-02-05"), EndDate: day("2024-02-05"), Status: StatusActive}},
	}}
	m := NewMemo(src)
	ctx := context.Background()

	for _, d := range []string{"2024-02-05", "2024-02-06", "2024-02-07"} {
		_, err := m.IsCovered(ctx, "s1", day(d))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.calls)

	covered, err := m.IsCovered(ctx, "s1", day("2024-02-05"))
	require.NoError(t, err)
	assert.True(t, covered)
}
