package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_CreatesDirAndWritesJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "app.log")

	f, logger, err := FileLogger(logrus.InfoLevel, logPath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	logger.WithField("check", "negative_on_hand").Info("sweep finding")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), `"check":"negative_on_hand"`)
	require.Contains(t, string(data), `"level":"info"`)
}

func TestConsoleLogger_RespectsLevel(t *testing.T) {
	logger := ConsoleLogger(logrus.WarnLevel)
	require.Equal(t, logrus.WarnLevel, logger.GetLevel())
	require.False(t, logger.IsLevelEnabled(logrus.InfoLevel))
}
