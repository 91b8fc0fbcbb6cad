package cliutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert := assert.New(t)

	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := parseLevel(in)
		assert.NoError(err)
		assert.Equal(want, got, in)
	}
	_, err := parseLevel("loud")
	assert.Error(err)
}

func TestSetupSlogFile(t *testing.T) {
	assert := assert.New(t)
	defer slog.SetDefault(slog.Default())

	p := filepath.Join(t.TempDir(), "chatmod.log")
	logger, err := SetupSlog(LogOptions{LogLevel: "info", LogFormat: "json", LogPath: p})
	require.NoError(t, err)
	logger.Info("automod verdict", "action", "allow")

	b, err := os.ReadFile(p)
	assert.NoError(err)
	assert.Contains(string(b), `"action":"allow"`)

	_, err = SetupSlog(LogOptions{LogFormat: "xml"})
	assert.Error(err)
}

func TestSetupDatabase(t *testing.T) {
	assert := assert.New(t)

	db, err := SetupDatabase("sqlite://file::memory:?cache=shared", 1, nil)
	require.NoError(t, err)
	assert.NoError(db.Exec("SELECT 1").Error)

	_, err = SetupDatabase("mysql://localhost/chatmod", 1, nil)
	assert.Error(err)
}
