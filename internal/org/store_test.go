// internal/org/store_test.go
//
// Unit-tests for the organization store using sqlmock.

package org

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenancy/internal/database"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	s := NewStore(sqlx.NewDb(raw, "mysql"), database.MySQL{})
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, mock
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO organizations`)).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := s.Create(context.Background(), &Organization{ID: "acme", Name: "Acme", Slug: "acme"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestCreateStampsTimes(t *testing.T) {
	s, mock := newMockStore(t)
	ts := s.now()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO organizations`)).
		WithArgs("acme", "Acme", "acme", "u1", "tenant_acme", StatusProvisioning, "", ts, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	o := &Organization{
		ID: "acme", Name: "Acme", Slug: "acme", OwnerID: "u1",
		DatabaseName: "tenant_acme", Status: StatusProvisioning,
	}
	if err := s.Create(context.Background(), o); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !o.CreatedAt.Equal(ts) {
		t.Fatalf("CreatedAt not stamped: %v", o.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestByIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + columns + ` FROM organizations WHERE id = ?`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.ByID(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestByIDScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	ts := s.now()

	rows := sqlmock.NewRows([]string{
		"id", "name", "slug", "owner_id", "database_name", "status", "failure_reason", "created_at", "updated_at",
	}).AddRow("acme", "Acme", "acme", "u1", "tenant_acme", "active", "", ts, ts)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM organizations WHERE id = ?`)).
		WithArgs("acme").
		WillReturnRows(rows)

	o, err := s.ByID(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if o.Status != StatusActive || !o.Routable() {
		t.Fatalf("unexpected org: %#v", o)
	}
}

func TestSetStatusClearsReasonUnlessFailed(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE organizations SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?`)).
		WithArgs(StatusActive, "", sqlmock.AnyArg(), "acme").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE organizations`)).
		WithArgs(StatusFailed, "migrate: boom", sqlmock.AnyArg(), "acme").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE organizations`)).
		WithArgs(StatusActive, "", sqlmock.AnyArg(), "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM organizations WHERE id = ?`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	ctx := context.Background()
	if err := s.SetStatus(ctx, "acme", StatusActive, "ignored"); err != nil {
		t.Fatalf("SetStatus active: %v", err)
	}
	if err := s.SetStatus(ctx, "acme", StatusFailed, "migrate: boom"); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if err := s.SetStatus(ctx, "ghost", StatusActive, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

// An UPDATE that matches a row but changes nothing reports zero affected
// rows on MySQL.  That is not a missing organization.
func TestSetStatusUnchangedRowIsNotMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE organizations`)).
		WithArgs(StatusProvisioning, "", sqlmock.AnyArg(), "acme").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM organizations WHERE id = ?`)).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	if err := s.SetStatus(context.Background(), "acme", StatusProvisioning, ""); err != nil {
		t.Fatalf("SetStatus unchanged row: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Acme Corp":          "acme-corp",
		"  Hello,  World!! ": "hello-world",
		"ÄÖ 42":              "42",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
