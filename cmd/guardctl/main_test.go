package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-guardian/internal/config"
	"tg-guardian/internal/gban"
	"tg-guardian/internal/models"
	"tg-guardian/internal/storage"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "guardian.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf(`bot:
  token: "123:abc"
logger:
  directory: %q
database:
  enabled: true
  driver: sqlite
  dsn: %q
gban:
  admins: [1]
`, dir, dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))
	return cfgPath, dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// seed writes a ban and a log entry straight through the repositories.
func seed(t *testing.T, dbPath string) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dbPath}, "error")
	require.NoError(t, err)
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	require.NoError(t, storage.NewGBanRepository(db).SaveEntry(ctx, gban.Entry{
		UserID: 42, Username: "spammer", Reason: "crypto scam", BannedBy: 1,
		IsPermanent: true, CreatedAt: time.Now(),
	}))
	logs := storage.NewModerationLogRepository(db)
	require.NoError(t, logs.Create(ctx, &models.ModerationLog{
		GroupID: -100, UserID: 42, ActorID: 1, Action: "gban", Reason: "crypto scam", CreatedAt: time.Now(),
	}))
	require.NoError(t, logs.Create(ctx, &models.ModerationLog{
		GroupID: -100, UserID: 7, ActorID: 1, Action: "warn", CreatedAt: time.Now().Add(-200 * 24 * time.Hour),
	}))
}

func TestMigrateAndStatus(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := run(t, "--config", cfgPath, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Migration completed")

	out, err = run(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "gban_entries")
	assert.NotContains(t, out, "missing")
}

func TestGBanListAndExport(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	_, err := run(t, "--config", cfgPath, "migrate")
	require.NoError(t, err)
	seed(t, dbPath)

	out, err := run(t, "--config", cfgPath, "gban", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "@spammer")
	assert.Contains(t, out, "never")

	out, err = run(t, "--config", cfgPath, "gban", "list", "nobody")
	require.NoError(t, err)
	assert.NotContains(t, out, "spammer")

	out, err = run(t, "--config", cfgPath, "gban", "export")
	require.NoError(t, err)
	var exported []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &exported))
	require.Len(t, exported, 1)
	assert.EqualValues(t, 42, exported[0]["user_id"])

	out, err = run(t, "--config", cfgPath, "gban", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "bans: 1 (permanent 1, temporary 0)")
}

func TestLogsAndPurge(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	_, err := run(t, "--config", cfgPath, "migrate")
	require.NoError(t, err)
	seed(t, dbPath)

	out, err := run(t, "--config", cfgPath, "logs", "--", "-100")
	require.NoError(t, err)
	assert.Contains(t, out, "gban")
	assert.Contains(t, out, "warn")

	out, err = run(t, "--config", cfgPath, "purge-logs")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 1 ")

	out, err = run(t, "--config", cfgPath, "logs", "--user", "7", "--", "-100")
	require.NoError(t, err)
	assert.NotContains(t, out, "warn")

	_, err = run(t, "--config", cfgPath, "logs", "abc")
	assert.Error(t, err)
}

func TestDatabaseMustBeEnabled(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("bot:\n  token: x\n"), 0o644))

	_, err := run(t, "--config", cfgPath, "status")
	assert.ErrorContains(t, err, "database is not enabled")
}
