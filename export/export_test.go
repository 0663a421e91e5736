package export

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestWriteCSV_SingleUser(t *testing.T) {
	table := Table{
		Columns: []string{"user_id", "username"},
		Rows:    [][]string{{"1", "bob"}},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, table); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	expected := "user_id,username\n1,bob\n"
	if buf.String() != expected {
		t.Errorf("expected %q, got %q", expected, buf.String())
	}
}

func TestWriteCSV_QuotesFields(t *testing.T) {
	table := Table{
		Columns: []string{"user_id", "username"},
		Rows:    [][]string{{"2", "Doe, Jane"}},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, table); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	expected := "user_id,username\n2,\"Doe, Jane\"\n"
	if buf.String() != expected {
		t.Errorf("expected %q, got %q", expected, buf.String())
	}
}

func TestWriteXLSX_UsersSheet(t *testing.T) {
	table := Table{
		Columns: []string{"user_id", "username", "department"},
		Rows: [][]string{
			{"1", "bob", "Informatics"},
			{"2", "alice", "Physics"},
		},
	}

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, table); err != nil {
		t.Fatalf("WriteXLSX failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("failed to reopen workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 1 || sheets[0] != SheetName {
		t.Fatalf("expected single sheet %q, got %v", SheetName, sheets)
	}

	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows (header + 2), got %d", len(rows))
	}
	if rows[0][1] != "username" {
		t.Errorf("expected header 'username', got %q", rows[0][1])
	}
	if rows[2][1] != "alice" {
		t.Errorf("expected 'alice' in row 3, got %q", rows[2][1])
	}
}

func TestTable_Empty(t *testing.T) {
	if !(Table{Columns: []string{"user_id"}}).Empty() {
		t.Error("expected table without rows to be empty")
	}
	if (Table{Rows: [][]string{{"1"}}}).Empty() {
		t.Error("expected table with a row to be non-empty")
	}
}
