package attendance

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// DecodeAbsentees validates a stored absentee list entry by entry. Malformed
// entries are rejected individually; only a document that is not a JSON array fails as a whole.
func DecodeAbsentees(raw []byte) ([]Absentee, []string, error) {
	return decodeList[Absentee](raw, "absentee")
}

// DecodeAttendees is the attendee counterpart of DecodeAbsentees.
func DecodeAttendees(raw []byte) ([]Attendee, []string, error) {
	return decodeList[Attendee](raw, "attendee")
}

func decodeList[T any](raw []byte, what string) ([]T, []string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, fmt.Errorf("%s list parsing failed: %w", what, err)
	}
	out := make([]T, 0, len(items))
	var rejected []string
	for i, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			rejected = append(rejected, fmt.Sprintf("%s %d: %v", what, i, err))
			continue
		}
		if err := validate.Struct(v); err != nil {
			rejected = append(rejected, fmt.Sprintf("%s %d: %v", what, i, err))
			continue
		}
		out = append(out, v)
	}
	return out, rejected, nil
}
