package migrate

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/tenancy/internal/database"
)

// unknownDialect satisfies database.Dialect with an unsupported name.
type unknownDialect struct{ database.MySQL }

func (unknownDialect) Name() string { return "oracle" }

func TestEmbeddedSets(t *testing.T) {
	for set, want := range map[Set]int64{Core: 2, Tenant: 5} {
		r, err := New(set, database.MySQL{}, nil)
		require.NoError(t, err)

		latest, err := r.Latest()
		require.NoError(t, err)
		assert.Equal(t, want, latest, "set %s", set)

		names, err := fs.Glob(r.fsys, "*.sql")
		require.NoError(t, err)
		assert.Len(t, names, int(want), "versions are contiguous")
	}
}

func TestNewRejectsUnknownDialect(t *testing.T) {
	_, err := New(Tenant, unknownDialect{}, nil)
	assert.Error(t, err)
}

func TestPostgresRunnerLocks(t *testing.T) {
	r, err := New(Tenant, database.Postgres{}, nil)
	require.NoError(t, err)
	assert.True(t, r.locking)
}

func TestLatestRejectsBadNames(t *testing.T) {
	fsys := fstest.MapFS{
		"00001_ok.sql":    {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		"notaversion.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
	}
	r, err := NewFromFS(Tenant, fsys, database.MySQL{}, nil)
	require.NoError(t, err)
	_, err = r.Latest()
	assert.Error(t, err)
}
