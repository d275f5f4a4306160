package attendance

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Entry is one scanned identifier in manifest order.
type Entry struct {
	Line       int
	Identifier string
	Raw        string
}

var identifierHeaders = map[string]bool{
	"identifier":    true,
	"matric_number": true,
	"matric number": true,
	"matric_no":     true,
	"matric no":     true,
	"matric":        true,
	"student_id":    true,
	"id":            true,
}

var jsonIdentifierKeys = []string{"identifier", "matric_number", "matric", "student_id", "id"}

var errEmptyManifest = errors.New("manifest has no entries")

// ParseManifest reads a scan manifest. JSON arrays (of strings or objects) and
// CSV/plain text with one scan per line are accepted. Blank lines are skipped.
func ParseManifest(content []byte, contentType string) ([]Entry, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(content) {
		return nil, errors.New("manifest is not valid UTF-8")
	}
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, errEmptyManifest
	}

	var entries []Entry
	var err error
	if strings.Contains(contentType, "json") || trimmed[0] == '[' || trimmed[0] == '{' {
		entries, err = parseJSONManifest(trimmed)
	} else {
		entries, err = parseLineManifest(string(content))
	}
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errEmptyManifest
	}
	return entries, nil
}

func parseLineManifest(content string) ([]Entry, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	column := 0
	headerSeen := false
	var entries []Entry
	for {
		start := r.InputOffset()
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		// A record's bytes run from the previous offset, past any blank lines the reader skipped.
		raw := strings.Trim(content[start:r.InputOffset()], "\r\n")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		line, _ := r.FieldPos(0)
		if !headerSeen {
			headerSeen = true
			if idx, ok := headerColumn(fields); ok {
				column = idx
				continue
			}
		}
		var ident string
		if column < len(fields) {
			ident = strings.TrimSpace(fields[column])
		}
		entries = append(entries, Entry{Line: line, Identifier: ident, Raw: raw})
	}
	return entries, nil
}

func headerColumn(fields []string) (int, bool) {
	for i, f := range fields {
		if identifierHeaders[strings.ToLower(strings.TrimSpace(f))] {
			return i, true
		}
	}
	return 0, false
}

func parseJSONManifest(content []byte) ([]Entry, error) {
	var items []json.RawMessage
	if content[0] == '{' {
		var wrapper struct {
			Scans   []json.RawMessage `json:"scans"`
			Entries []json.RawMessage `json:"entries"`
		}
		if err := json.Unmarshal(content, &wrapper); err != nil {
			return nil, err
		}
		items = wrapper.Scans
		if items == nil {
			items = wrapper.Entries
		}
		if items == nil {
			return nil, errors.New(`json manifest needs a "scans" or "entries" array`)
		}
	} else if err := json.Unmarshal(content, &items); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for i, item := range items {
		ident, err := jsonIdentifier(item)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		entries = append(entries, Entry{Line: i + 1, Identifier: ident, Raw: string(item)})
	}
	return entries, nil
}

func jsonIdentifier(item json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var obj map[string]any
	if err := json.Unmarshal(item, &obj); err != nil {
		return "", errors.New("entry must be a string or an object")
	}
	for _, key := range jsonIdentifierKeys {
		switch v := obj[key].(type) {
		case string:
			return strings.TrimSpace(v), nil
		case float64:
			return strings.TrimSpace(fmt.Sprintf("%.0f", v)), nil
		}
	}
	return "", nil
}
