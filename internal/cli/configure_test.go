package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/agentic/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()
		configureCmd := cmd.Commands()

		found := false
		for _, c := range configureCmd {
			if c.Name() == "configure" {
				found = true
				break
			}
		}
		assert.True(t, found, "configure command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := setupTestRoot(t)
		cmd.SetArgs([]string{"configure", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "interactive configuration wizard")
	})

	t.Run("should save the wizard answers", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agentic.json")
		answers := strings.Join([]string{"sk-ant-abc", "", "keyword", "bomb", "9191", "", "warn"}, "\n") + "\n"

		cmd := setupTestRoot(t)
		cmd.SetArgs([]string{"configure", "--config", path})
		cmd.SetIn(strings.NewReader(answers))
		output := &bytes.Buffer{}
		cmd.SetOut(output)
		t.Cleanup(func() { cfgFile = "" })

		require.NoError(t, cmd.Execute())
		assert.Contains(t, output.String(), "Configuration saved to: "+path)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9191, cfg.Gateway.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, []string{"bomb"}, cfg.Moderation.Keywords)
		assert.NotEmpty(t, cfg.Gateway.SharedSecret)
	})
}
