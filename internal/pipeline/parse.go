package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// ValidationError means the input itself is bad (missing columns, unreadable
// rows). It fails the job with the message verbatim and is never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Comment is one parsed feedback row, the unit flowing through every stage.
type Comment struct {
	ID        string
	Text      string
	Agrees    int
	Disagrees int
	Passes    int
	Topic     string
	Subtopic  string
}

// Column aliases accepted after normalization (lowercase, "-"/" " -> "_").
var (
	idColumns       = []string{"comment_id", "id"}
	textColumns     = []string{"comment_text", "text", "comment", "comment_body"}
	agreeColumns    = []string{"agrees", "agree_count"}
	disagreeColumns = []string{"disagrees", "disagree_count"}
	passColumns     = []string{"passes", "pass_count"}
	topicColumns    = []string{"topic", "topics"}
	subtopicColumns = []string{"subtopic", "subtopics"}
)

// ParseComments turns raw CSV or TSV bytes into the ordered comment
// sequence. An identifier column and a text column are required; vote counts
// and topic labels are optional. Upstream validates uploads already, but the
// pipeline re-validates so a stale or hand-crafted job cannot corrupt a
// report.
func ParseComments(raw []byte) ([]Comment, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, validationErrorf("csv content is empty")
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.TrimLeadingSpace = true
	if isTabSeparated(raw) {
		reader.Comma = '\t'
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, validationErrorf("malformed csv: %v", err)
	}
	if len(records) < 1 {
		return nil, validationErrorf("csv content is empty")
	}

	header := normalizeHeader(records[0])
	idIdx := findColumn(header, idColumns)
	textIdx := findColumn(header, textColumns)
	var missing []string
	if idIdx < 0 {
		missing = append(missing, "comment-id")
	}
	if textIdx < 0 {
		missing = append(missing, "comment_text")
	}
	if len(missing) > 0 {
		return nil, validationErrorf("csv is missing required columns: %s", strings.Join(missing, ", "))
	}

	agreeIdx := findColumn(header, agreeColumns)
	disagreeIdx := findColumn(header, disagreeColumns)
	passIdx := findColumn(header, passColumns)
	topicIdx := findColumn(header, topicColumns)
	subtopicIdx := findColumn(header, subtopicColumns)

	comments := make([]Comment, 0, len(records)-1)
	for _, row := range records[1:] {
		id := strings.TrimSpace(cell(row, idIdx))
		text := strings.TrimSpace(cell(row, textIdx))
		if id == "" && text == "" {
			continue
		}
		comments = append(comments, Comment{
			ID:        id,
			Text:      text,
			Agrees:    cellInt(row, agreeIdx),
			Disagrees: cellInt(row, disagreeIdx),
			Passes:    cellInt(row, passIdx),
			Topic:     strings.TrimSpace(cell(row, topicIdx)),
			Subtopic:  strings.TrimSpace(cell(row, subtopicIdx)),
		})
	}
	return comments, nil
}

// isTabSeparated sniffs the header line; a tab with no comma means TSV.
func isTabSeparated(raw []byte) bool {
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	return bytes.IndexByte(line, '\t') >= 0 && bytes.IndexByte(line, ',') < 0
}

func normalizeHeader(row []string) []string {
	out := make([]string, len(row))
	for i, name := range row {
		name = strings.TrimSpace(strings.ToLower(name))
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.ReplaceAll(name, " ", "_")
		out[i] = strings.TrimPrefix(name, "\ufeff")
	}
	return out
}

func findColumn(header []string, aliases []string) int {
	for _, alias := range aliases {
		for i, name := range header {
			if name == alias {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func cellInt(row []string, idx int) int {
	v := strings.TrimSpace(cell(row, idx))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
