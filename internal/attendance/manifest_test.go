package attendance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identifiers(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Identifier
	}
	return out
}

func TestParseManifestPlainText(t *testing.T) {
	entries, err := ParseManifest([]byte("CU/19/001\r\n\nCU/19/002\n  \nCU/19/001\n"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, []string{"CU/19/001", "CU/19/002", "CU/19/001"}, identifiers(entries))
	assert.Equal(t, []int{1, 3, 5}, []int{entries[0].Line, entries[1].Line, entries[2].Line})
	assert.Equal(t, "CU/19/001", entries[0].Raw)
}

func TestParseManifestCSVWithHeader(t *testing.T) {
	content := "\xef\xbb\xbfscanned_at,Matric Number,device\n" +
		"2024-02-05T08:01:00Z,CU/19/001,gate-1\n" +
		"2024-02-05T08:02:00Z, CU/19/002 ,gate-2\n" +
		"2024-02-05T08:03:00Z\n"
	entries, err := ParseManifest([]byte(content), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"CU/19/001", "CU/19/002", ""}, identifiers(entries))
	assert.Equal(t, "2024-02-05T08:01:00Z,CU/19/001,gate-1", entries[0].Raw)
	assert.Equal(t, 2, entries[0].Line)
}

func TestParseManifestCSVQuotedNewline(t *testing.T) {
	content := "matric_number,note\r\n" +
		"\"CU/19/001\",\"late\narrival\"\r\n" +
		"\n" +
		"CU/19/002,on time\r\n"
	entries, err := ParseManifest([]byte(content), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"CU/19/001", "CU/19/002"}, identifiers(entries))
	assert.Equal(t, []int{2, 5}, []int{entries[0].Line, entries[1].Line})
	assert.Equal(t, "\"CU/19/001\",\"late\narrival\"", entries[0].Raw)
	assert.Equal(t, "CU/19/002,on time", entries[1].Raw)
}

func TestParseManifestJSON(t *testing.T) {
	entries, err := ParseManifest([]byte(`["CU/19/001", {"matric_number": "CU/19/002", "gate": 1}, {"student_id": 42}]`), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"CU/19/001", "CU/19/002", "42"}, identifiers(entries))
	assert.Equal(t, `{"matric_number": "CU/19/002", "gate": 1}`, entries[1].Raw)

	entries, err = ParseManifest([]byte(`{"scans": ["a", "b"]}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, identifiers(entries))
}

func TestParseManifestRejectsCorruptInput(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		contentType string
	}{
		{name: "empty", content: "   \n\n"},
		{name: "header only", content: "matric_number\n"},
		{name: "broken json", content: `["CU/19/001",`},
		{name: "json object without array", content: `{"foo": 1}`},
		{name: "json entry of wrong type", content: `[["nested"]]`},
		{name: "bare quote", content: "CU/19/0\"01\n"},
		{name: "invalid utf8", content: "CU/19/001\n\xff\xfe\n"},
		{name: "empty json array", content: `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.content), tt.contentType)
			assert.Error(t, err)
		})
	}
}
