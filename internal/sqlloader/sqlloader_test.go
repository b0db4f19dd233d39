package sqlloader

import (
	"strings"
	"testing"
)

func TestLoadNamedStatement(t *testing.T) {
	src := `-- get_data_item
SELECT * FROM data_items WHERE id = $1;
`
	stmts, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := stmts["get_data_item"]
	if !ok {
		t.Fatalf("statements = %v, want a get_data_item entry", stmts)
	}
	if got != "SELECT * FROM data_items WHERE id = $1;" {
		t.Errorf("statement body = %q", got)
	}
}

func TestLoadMultipleStatementsBlankLineDelimited(t *testing.T) {
	src := `-- first
SELECT 1;

-- second
SELECT 2;
`
	stmts, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("statements = %v, want 2 entries", stmts)
	}
	if stmts["first"] != "SELECT 1;" || stmts["second"] != "SELECT 2;" {
		t.Errorf("statements = %v", stmts)
	}
}

func TestLoadUnnamedStatementsGetSequentialNames(t *testing.T) {
	src := "SELECT 1;\n\nSELECT 2;\n"
	stmts, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stmts["statement_1"] != "SELECT 1;" || stmts["statement_2"] != "SELECT 2;" {
		t.Errorf("statements = %v", stmts)
	}
}

func TestLoadStripsBlockComment(t *testing.T) {
	src := "-- name\nSELECT /* inline comment */ 1;\n"
	stmts, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stmts["name"] != "SELECT  1;" {
		t.Errorf("statement = %q, want block comment stripped", stmts["name"])
	}
}

func TestLoadStripsMultilineBlockComment(t *testing.T) {
	src := "-- name\nSELECT /* spans\nmultiple lines */ 1;\n"
	stmts, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stmts["name"] != "SELECT  1;" {
		t.Errorf("statement = %q, want multi-line block comment stripped", stmts["name"])
	}
}

func TestLoadStripsLineComment(t *testing.T) {
	src := "-- name\nSELECT 1; -- trailing comment\n"
	stmts, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stmts["name"] != "SELECT 1;" {
		t.Errorf("statement = %q, want trailing line comment stripped", stmts["name"])
	}
}

func TestLoadPreservesDashDashInsideStringLiteral(t *testing.T) {
	src := "-- name\nSELECT '--not a comment';\n"
	stmts, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stmts["name"] != "SELECT '--not a comment';" {
		t.Errorf("statement = %q, want the string literal preserved verbatim", stmts["name"])
	}
}

func TestLoadHandlesEscapedQuoteInStringLiteral(t *testing.T) {
	src := "-- name\nSELECT 'it''s -- fine' || 'x\\'y';\n"
	stmts, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(stmts["name"], "x\\'y") {
		t.Errorf("statement = %q, want the backslash-escaped quote preserved", stmts["name"])
	}
}

func TestLoadEmptyInput(t *testing.T) {
	stmts, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(stmts) != 0 {
		t.Errorf("statements = %v, want empty", stmts)
	}
}

func TestLoadPreservesLeadingWhitespaceTrimsTrailing(t *testing.T) {
	src := "-- name\nSELECT 1\n  AND 2   \n"
	stmts, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "SELECT 1\n  AND 2"
	if stmts["name"] != want {
		t.Errorf("statement = %q, want %q", stmts["name"], want)
	}
}
