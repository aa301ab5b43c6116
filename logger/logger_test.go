package logger

import (
	"discord-moderation/config"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	closer, err := Setup(config.LoggerConfig{
		Directory: dir,
		Rotation:  config.LogRotationConfig{MaxSize: 1, MaxBackups: 1},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		closer.Close()
	})

	log.Printf("[Test] hello")

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Test] hello")
}
