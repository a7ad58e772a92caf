package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gratefultolord/payverify_bot/internal/payment"
)

func baseEnv() map[string]string {
	return map[string]string{
		"BOT_TOKEN":       "user-token",
		"ADMIN_BOT_TOKEN": "admin-token",
		"DB_USER":         "payverify",
		"DB_PASSWORD":     "secret",
		"DB_NAME":         "payverify",
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse(env.Options{Environment: baseEnv()})
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, "5432", cfg.DBPort)
	assert.Equal(t, int64(1000), cfg.MinAmount)
	assert.Equal(t, 3, cfg.MaxCorrections)
	assert.Equal(t, "doc_files", cfg.DocDir)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, payment.DefaultCatalog, cfg.Catalog)
	assert.Empty(t, cfg.Moderators)

	rules := cfg.Rules()
	assert.Equal(t, int64(1000), rules.MinAmount)
	assert.Equal(t, payment.DefaultDocumentTypes, rules.DocumentTypes)
}

func TestParse_SQLiteAndModerators(t *testing.T) {
	vars := map[string]string{
		"BOT_TOKEN":       "user-token",
		"ADMIN_BOT_TOKEN": "admin-token",
		"DB_DRIVER":       "sqlite",
		"SQLITE_PATH":     "/var/lib/payverify/payverify.db",
		"MODERATORS":      "11,22",
		"MIN_AMOUNT":      "5000",
		"MAX_CORRECTIONS": "0",
	}

	cfg, err := parse(env.Options{Environment: vars})
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, []int64{11, 22}, cfg.Moderators)
	assert.Equal(t, int64(5000), cfg.Rules().MinAmount)
	assert.Equal(t, 0, cfg.MaxCorrections)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		patch map[string]string
		drop  string
	}{
		{name: "missing bot token", drop: "BOT_TOKEN"},
		{name: "missing postgres credentials", drop: "DB_PASSWORD"},
		{name: "unknown driver", patch: map[string]string{"DB_DRIVER": "mysql"}},
		{name: "negative limit", patch: map[string]string{"MAX_CORRECTIONS": "-1"}},
		{name: "negative amount", patch: map[string]string{"MIN_AMOUNT": "-1"}},
		{name: "missing catalog file", patch: map[string]string{"CHANNELS_FILE": "/nonexistent/channels.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := baseEnv()
			delete(vars, tt.drop)
			for k, v := range tt.patch {
				vars[k] = v
			}

			_, err := parse(env.Options{Environment: vars})
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "channels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
channels:
  - code: KBZ
    name: KBZ Pay
    aliases: [kbzpay]
  - code: YOMA
    name: Yoma Bank
    account: "0012 3456 7890"
    holder: Payverify Ltd
`), 0o600))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog, 2)

	ch, ok := catalog.Lookup("yoma bank")
	require.True(t, ok)
	assert.Equal(t, "YOMA", ch.Code)
	assert.Equal(t, "0012 3456 7890", ch.Account)
	assert.Equal(t, "Payverify Ltd", ch.Holder)

	cfg, err := parse(env.Options{Environment: func() map[string]string {
		vars := baseEnv()
		vars["CHANNELS_FILE"] = path
		return vars
	}()})
	require.NoError(t, err)
	assert.Equal(t, catalog, cfg.Catalog)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"empty.yaml":     "channels: []\n",
		"duplicate.yaml": "channels:\n  - {code: KBZ, name: KBZ Pay}\n  - {code: KBZ, name: Other}\n",
		"nameless.yaml":  "channels:\n  - {code: KBZ}\n",
		"broken.yaml":    "channels: [\n",
	}

	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		_, err := LoadCatalog(path)
		assert.Error(t, err, name)
	}
}
