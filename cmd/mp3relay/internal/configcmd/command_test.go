package configcmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/mp3relay/cmd/mp3relay/internal"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { internal.ConfigPathOverride = "" })

	cmd := NewConfigCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewConfigCommand(t *testing.T) {
	cmd := NewConfigCommand()
	require.NotNil(t, cmd)

	assert.Equal(t, "config", cmd.Use)
	assert.True(t, cmd.HasSubCommands())
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestInitWritesConfigWithoutToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	t.Setenv("BOT_TOKEN", "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi")

	out, err := execute(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"binary": "yt-dlp"`)
	assert.NotContains(t, string(data), "ABCDEFGHIJ")

	_, err = execute(t, "init", "--config", path)
	assert.Error(t, err, "existing config must not be overwritten")

	_, err = execute(t, "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestShowMasksToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("BOT_TOKEN", "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi")

	out, err := execute(t, "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"token": "[set]"`)
	assert.NotContains(t, out, "ABCDEFGHIJ")
}
