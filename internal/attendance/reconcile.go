package attendance

import (
	"context"

	"chapel/internal/directory"
)

// LookupFunc resolves an identifier against the whole registry.
type LookupFunc func(ctx context.Context, idOrMatric string) (*directory.Student, error)

type reconciliation struct {
	Rows      []Row
	Attendees []Attendee
	Absentees []Absentee
}

func (r reconciliation) matched() int   { return len(r.Attendees) }
func (r reconciliation) unmatched() int { return len(r.Rows) - len(r.Attendees) }

// reconcile matches entries against the roster of active students of one level.
// Attendees and absentees partition the roster; every entry yields exactly one row.
func reconcile(ctx context.Context, entries []Entry, roster []directory.Student, lookup LookupFunc) (reconciliation, error) {
	idx := directory.NewIndex(roster)
	seen := make(map[string]bool, len(roster))
	rec := reconciliation{Rows: make([]Row, 0, len(entries))}

	for _, e := range entries {
		row := Row{Line: e.Line, Identifier: e.Identifier, Raw: e.Raw}
		if s, ok := idx.Lookup(e.Identifier); ok {
			row.StudentID = s.ID
			if seen[s.ID] {
				row.Reason = ReasonDuplicateScan
			} else {
				seen[s.ID] = true
				row.Matched = true
				rec.Attendees = append(rec.Attendees, Attendee{
					StudentID:    s.ID,
					MatricNumber: s.MatricNumber,
					FullName:     s.FullName,
					LevelID:      s.LevelID,
				})
			}
			rec.Rows = append(rec.Rows, row)
			continue
		}

		row.Reason = ReasonNotFound
		if directory.NormalizeIdentifier(e.Identifier) != "" {
			other, err := lookup(ctx, e.Identifier)
			if err != nil {
				return reconciliation{}, err
			}
			if other != nil && other.Active() {
				row.StudentID = other.ID
				row.Reason = ReasonWrongLevel
			}
		}
		rec.Rows = append(rec.Rows, row)
	}

	for _, s := range roster {
		if seen[s.ID] {
			continue
		}
		rec.Absentees = append(rec.Absentees, Absentee{
			StudentID:    s.ID,
			MatricNumber: s.MatricNumber,
			FullName:     s.FullName,
			LevelID:      s.LevelID,
			Exempted:     s.ChapelExempt,
		})
	}
	return rec, nil
}

func entriesFromRows(rows []Row) []Entry {
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry{Line: r.Line, Identifier: r.Identifier, Raw: r.Raw}
	}
	return entries
}
