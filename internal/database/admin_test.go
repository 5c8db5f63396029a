// internal/database/admin_test.go
//
// Unit-tests for Admin using sqlmock.

package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

func newMockAdmin(t *testing.T, d Dialect, driver string) (*Admin, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return NewAdmin(sqlx.NewDb(raw, driver), d), mock
}

func TestDatabaseExistsRebindsForPostgres(t *testing.T) {
	a, mock := newMockAdmin(t, Postgres{}, "pgx")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM pg_database WHERE datname = $1`)).
		WithArgs("tenant_acme").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := a.DatabaseExists(context.Background(), "tenant_acme")
	if err != nil {
		t.Fatalf("DatabaseExists: %v", err)
	}
	if !ok {
		t.Fatalf("expected database to exist")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestCreateDatabaseDuplicate(t *testing.T) {
	a, mock := newMockAdmin(t, MySQL{}, "mysql")

	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE `tenant_acme`")).
		WillReturnError(&mysql.MySQLError{Number: 1007, Message: "database exists"})

	err := a.CreateDatabase(context.Background(), "tenant_acme")
	if !errors.Is(err, ErrDatabaseExists) {
		t.Fatalf("want ErrDatabaseExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestCreateDatabase(t *testing.T) {
	a, mock := newMockAdmin(t, MySQL{}, "mysql")

	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE `tenant_acme`")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := a.CreateDatabase(context.Background(), "tenant_acme"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}
