package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSchemaReady_AllTablesPresent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"table_name"})
	for _, name := range RequiredTables {
		rows.AddRow(name)
	}
	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").WillReturnRows(rows)

	ready, err := SchemaReady(context.Background(), db)
	if err != nil {
		t.Fatalf("SchemaReady: %v", err)
	}
	if !ready {
		t.Error("expected schema to be ready")
	}
}

func TestSchemaReady_MissingTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"table_name"}).AddRow("tenants").AddRow("jobs")
	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").WillReturnRows(rows)

	ready, err := SchemaReady(context.Background(), db)
	if err != nil {
		t.Fatalf("SchemaReady: %v", err)
	}
	if ready {
		t.Error("expected schema to be reported not ready")
	}
}

func TestSchemaReady_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").WillReturnError(errors.New("connection reset"))

	if _, err := SchemaReady(context.Background(), db); err == nil {
		t.Fatal("expected error to propagate")
	}
}
