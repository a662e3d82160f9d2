package tenantrepo

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"frameworks/pkg/models"
)

func newTestRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestGet_Found(t *testing.T) {
	r, mock := newTestRepo(t)

	rows := sqlmock.NewRows([]string{
		"id", "plan", "creation_ip", "plan_expires_at", "billing_handle", "created_at", "updated_at",
	}).AddRow("tenant-1", "pro", "203.0.113.1", nil, nil, time.Now(), time.Now())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, plan, creation_ip, plan_expires_at, billing_handle, created_at, updated_at`)).
		WithArgs("tenant-1").
		WillReturnRows(rows)

	tenant, err := r.Get(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tenant.Plan != models.PlanPro {
		t.Fatalf("expected plan pro, got %q", tenant.Plan)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	r, mock := newTestRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, plan, creation_ip, plan_expires_at, billing_handle, created_at, updated_at`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "plan", "creation_ip", "plan_expires_at", "billing_handle", "created_at", "updated_at",
		}))

	_, err := r.Get(context.Background(), "ghost")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureExists(t *testing.T) {
	r, mock := newTestRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tenants`)).
		WithArgs("tenant-2", string(models.PlanFree), "203.0.113.2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.EnsureExists(context.Background(), "tenant-2", "203.0.113.2"); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
