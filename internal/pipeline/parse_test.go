package pipeline

import (
	"errors"
	"testing"
)

func TestParseComments(t *testing.T) {
	raw := []byte("comment-id,comment_text,agrees,disagrees\n1,\"Great idea\",10,2\n2,\"Needs work\",3,5\n")

	comments, err := ParseComments(raw)
	if err != nil {
		t.Fatalf("ParseComments failed: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}
	if comments[0].ID != "1" || comments[0].Text != "Great idea" {
		t.Fatalf("unexpected first comment: %+v", comments[0])
	}
	if comments[0].Agrees != 10 || comments[0].Disagrees != 2 || comments[0].Passes != 0 {
		t.Fatalf("unexpected vote counts: %+v", comments[0])
	}
	if comments[1].ID != "2" || comments[1].Text != "Needs work" {
		t.Fatalf("unexpected second comment: %+v", comments[1])
	}
}

func TestParseCommentsHeaderAliases(t *testing.T) {
	raw := []byte("ID,Text,Agree Count,Topic\na,hello,3,Safety\n")

	comments, err := ParseComments(raw)
	if err != nil {
		t.Fatalf("ParseComments failed: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(comments))
	}
	if comments[0].Agrees != 3 {
		t.Fatalf("expected agrees=3, got %d", comments[0].Agrees)
	}
	if comments[0].Topic != "Safety" {
		t.Fatalf("expected topic Safety, got %q", comments[0].Topic)
	}
}

func TestParseCommentsTabSeparated(t *testing.T) {
	raw := []byte("comment-id\tcomment_text\tagrees\n1\tfirst\t4\n2\tsecond\t7\n")

	comments, err := ParseComments(raw)
	if err != nil {
		t.Fatalf("ParseComments failed: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}
	if comments[1].Agrees != 7 {
		t.Fatalf("expected agrees=7, got %d", comments[1].Agrees)
	}
}

func TestParseCommentsSkipsEmptyRows(t *testing.T) {
	raw := []byte("comment-id,comment_text\n1,keep\n,\n2,also keep\n")

	comments, err := ParseComments(raw)
	if err != nil {
		t.Fatalf("ParseComments failed: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}
}

func TestParseCommentsMissingColumns(t *testing.T) {
	raw := []byte("foo,bar\nx,y\n")

	_, err := ParseComments(raw)
	if err == nil {
		t.Fatal("expected an error for missing columns")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if verr.Message != "csv is missing required columns: comment-id, comment_text" {
		t.Fatalf("unexpected message: %q", verr.Message)
	}
}

func TestParseCommentsEmptyInput(t *testing.T) {
	_, err := ParseComments([]byte("  \n "))
	if err == nil {
		t.Fatal("expected an error for empty input")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
}

func TestParseCommentsMalformed(t *testing.T) {
	raw := []byte("comment-id,comment_text\n\"unterminated,quote\n")

	_, err := ParseComments(raw)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
}
