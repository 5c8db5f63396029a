package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
http:
  listen_addr: ":8080"
  tenant_header: "X-Tenant-Id"
database:
  dialect: "postgres"
  core_database: "core"
  cluster:
    host: "db"
    port: 5432
    user: "app"
    password: "vault:secret/tenancy#db_password"
  tenant_pool:
    max_open_conns: 4
    conn_max_idle_time: "2m"
tenancy:
  idle_ttl: "10m"
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
`

type fakeSecrets map[string]string

func (f fakeSecrets) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := f[ref]
	if !ok {
		return "", errors.New("no such secret")
	}
	return v, nil
}

func writeRoot(t *testing.T, yaml string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "conf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "conf", "global.yaml"), []byte(yaml), 0o644))
	return root
}

func TestLoadFromLayersAndSecrets(t *testing.T) {
	root := writeRoot(t, sampleYAML)
	t.Setenv("TENANCY_DATABASE__CLUSTER__HOST", "db.internal")

	cfg, err := LoadFrom(context.Background(), root, fakeSecrets{"secret/tenancy#db_password": "s3cret"})
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Cluster.Host)
	assert.Equal(t, "s3cret", cfg.Database.Cluster.Password)
	assert.Equal(t, 5432, cfg.Database.Cluster.Port)
	assert.Equal(t, 4, cfg.Database.TenantPool.MaxOpenConns)
	assert.Equal(t, 2*time.Minute, cfg.Database.TenantPool.ConnMaxIdleTime)
	assert.Equal(t, root, cfg.Paths.Root)
	assert.Same(t, cfg, Get())

	rc := cfg.RegistryConfig(nil)
	assert.Equal(t, 10*time.Minute, rc.IdleTTL)
	assert.Equal(t, "core", rc.CoreDatabase)
	assert.Equal(t, 4, rc.TenantPool.MaxOpenConns)
	assert.Zero(t, rc.TenantPool.Retries)
}

func TestLoadFromNeedsResolverForVaultValues(t *testing.T) {
	root := writeRoot(t, sampleYAML)
	_, err := LoadFrom(context.Background(), root, nil)
	assert.ErrorIs(t, err, ErrSecretsUnavailable)
}

func TestLoadFromValidates(t *testing.T) {
	for name, broken := range map[string]string{
		"dialect":    strings.Replace(sampleYAML, `"postgres"`, `"oracle"`, 1),
		"jwt secret": strings.Replace(sampleYAML, "0123456789abcdef0123456789abcdef", "short", 1),
		"host":       strings.Replace(sampleYAML, `host: "db"`, `host: ""`, 1),
	} {
		root := writeRoot(t, broken)
		_, err := LoadFrom(context.Background(), root, fakeSecrets{"secret/tenancy#db_password": "x"})
		assert.Error(t, err, name)
	}
}
