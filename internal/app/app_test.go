package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanizio/tenancy/internal/config"
	"github.com/yanizio/tenancy/internal/database"
	"github.com/yanizio/tenancy/internal/tenant"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTP{ListenAddr: ":0", TenantHeader: "X-Tenant-Id"},
		Database: config.Database{
			Dialect:      "mysql",
			Cluster:      database.Cluster{Host: "db", Port: 3306, User: "app"},
			CoreDatabase: "core",
		},
		Auth: config.Auth{JWTSecret: strings.Repeat("j", 32)},
	}
}

func TestBuildWiresAndServesHealth(t *testing.T) {
	var dsns []string
	opener := func(_ context.Context, _ database.Dialect, dsn string, _ database.Options) (*sqlx.DB, error) {
		dsns = append(dsns, dsn)
		raw, _, err := sqlmock.New()
		if err != nil {
			return nil, err
		}
		return sqlx.NewDb(raw, "mysql"), nil
	}

	a, err := Build(context.Background(), testConfig(), zaptest.NewLogger(t).Sugar(),
		WithRegistryOptions(tenant.WithOpener(opener)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.Len(t, dsns, 1, "only the core pool opens at startup")
	assert.Contains(t, dsns[0], "/core")
	assert.NotNil(t, a.Provisioner)
	assert.NotNil(t, a.Tokens)
	assert.Equal(t, 1, a.Events.Handlers("organization.created"))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildRejectsUnknownDialect(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Dialect = "oracle"
	_, err := Build(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}
