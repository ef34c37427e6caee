package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWhenConfigFileMissing(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.Empty(t, cfg.DBPath)
}

func TestLoadParsesExistingConfigFile(t *testing.T) {
	dir := t.TempDir()
	contents := "db_path: /var/lib/laminark/laminark.db\n" +
		"embedding_model: local-minilm\n" +
		"embedding_command: [\"python3\", \"embed_server.py\"]\n" +
		"log_level: debug\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/laminark/laminark.db", cfg.DBPath)
	require.Equal(t, "local-minilm", cfg.EmbeddingModel)
	require.Equal(t, []string{"python3", "embed_server.py"}, cfg.EmbeddingCommand)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("not: [valid"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestSensitivityValueMapping(t *testing.T) {
	require.Equal(t, 1.0, SensitivityValue("sensitive"))
	require.Equal(t, 1.5, SensitivityValue("balanced"))
	require.Equal(t, 2.5, SensitivityValue("relaxed"))
	require.Equal(t, 1.5, SensitivityValue("unknown-value"))
}

func TestNewTopicWatcherDefaultsWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()
	tw, err := NewTopicWatcher(dir)
	require.NoError(t, err)
	defer tw.Close()

	cur := tw.Current()
	require.Equal(t, "balanced", cur.Sensitivity)
	require.Equal(t, 0.3, cur.Alpha)
}

func TestTopicWatcherLoadsExistingFileAtStartup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "topic-detection.yaml"), []byte("sensitivity: sensitive\nalpha: 0.5\n"), 0o644))

	tw, err := NewTopicWatcher(dir)
	require.NoError(t, err)
	defer tw.Close()

	cur := tw.Current()
	require.Equal(t, "sensitive", cur.Sensitivity)
	require.Equal(t, 0.5, cur.Alpha)
}

func TestTopicWatcherReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topic-detection.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sensitivity: balanced\nalpha: 0.3\n"), 0o644))

	tw, err := NewTopicWatcher(dir)
	require.NoError(t, err)
	defer tw.Close()
	require.Equal(t, "balanced", tw.Current().Sensitivity)

	require.NoError(t, os.WriteFile(path, []byte("sensitivity: relaxed\nalpha: 0.6\n"), 0o644))

	require.Eventually(t, func() bool {
		return tw.Current().Sensitivity == "relaxed"
	}, 2*time.Second, 20*time.Millisecond, "watcher should pick up the rewritten file")
	require.Equal(t, 0.6, tw.Current().Alpha)
}

func TestTopicWatcherIgnoresUnrelatedFileChanges(t *testing.T) {
	dir := t.TempDir()
	tw, err := NewTopicWatcher(dir)
	require.NoError(t, err)
	defer tw.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log_level: debug\n"), 0o644))
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, "balanced", tw.Current().Sensitivity, "unrelated file writes in the same dir must not trigger a reload")
}

func TestCloseIsIdempotentAndSafeOnNilWatcher(t *testing.T) {
	tw := &TopicWatcher{}
	require.NoError(t, tw.Close())
	require.NoError(t, tw.Close())
}
