package migration

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smallbiznis/upimatch/internal/reconcile/domain"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(embeddedMigrations, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(embeddedMigrations, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestApplyAutoMigratesSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "migration.db")), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Apply(conn, "sqlite"))
	assert.True(t, conn.Migrator().HasTable(&domain.NotificationRecord{}))
	assert.True(t, conn.Migrator().HasColumn(&domain.NotificationRecord{}, "intent_id"))
}

func TestApplyRequiresConnection(t *testing.T) {
	assert.Error(t, Apply(nil, "sqlite"))
}
