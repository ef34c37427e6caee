// Package config loads and live-reloads the daemon's on-disk
// configuration: a static config.yaml read once at startup, and a
// topic-detection.yaml whose sensitivity/alpha settings are watched
// for changes so an operator can retune detection without restarting the
// daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the daemon's static startup configuration.
type Config struct {
	DBPath          string `yaml:"db_path"`
	EmbeddingModel  string `yaml:"embedding_model"`
	EmbeddingCommand []string `yaml:"embedding_command"`
	LogLevel        string `yaml:"log_level"`
}

// TopicDetectionConfig tunes the adaptive topic-shift detector. It is
// reloaded live, so defaults here matter less than the ones actually on
// disk once the watcher starts.
type TopicDetectionConfig struct {
	Sensitivity string  `yaml:"sensitivity"` // sensitive | balanced | relaxed
	Alpha       float64 `yaml:"alpha"`
}

// Load reads config.yaml from dir. A missing file returns zero-value
// defaults rather than an error: the daemon can run with none of its
// optional settings configured.
func Load(dir string) (*Config, error) {
	cfg := &Config{LogLevel: "info"}
	path := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// TopicWatcher holds the live-reloaded topic-detection config, reloading it
// when the file on disk is written or created; callers read the latest
// values through Current.
type TopicWatcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu  sync.RWMutex
	cur TopicDetectionConfig
}

// NewTopicWatcher loads dir/topic-detection.yaml and starts watching it
// for changes. Call Close when done.
func NewTopicWatcher(dir string) (*TopicWatcher, error) {
	path := filepath.Join(dir, "topic-detection.yaml")
	tw := &TopicWatcher{path: path, cur: TopicDetectionConfig{Sensitivity: "balanced", Alpha: 0.3}}

	if err := tw.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}
	tw.watcher = w

	go tw.run()
	return tw, nil
}

func (tw *TopicWatcher) run() {
	for {
		select {
		case ev, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(tw.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_ = tw.reload()
			}
		case _, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (tw *TopicWatcher) reload() error {
	data, err := os.ReadFile(tw.path)
	if err != nil {
		return err
	}
	var next TopicDetectionConfig
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("config: parse %s: %w", tw.path, err)
	}
	tw.mu.Lock()
	tw.cur = next
	tw.mu.Unlock()
	return nil
}

// Current returns the most recently loaded topic-detection config.
func (tw *TopicWatcher) Current() TopicDetectionConfig {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	return tw.cur
}

// Close stops the filesystem watch.
func (tw *TopicWatcher) Close() error {
	if tw.watcher == nil {
		return nil
	}
	return tw.watcher.Close()
}

// SensitivityValue maps a config sensitivity name to the numeric
// multiplier the topic package's EWMAThreshold expects.
func SensitivityValue(name string) float64 {
	switch name {
	case "sensitive":
		return 1.0
	case "relaxed":
		return 2.5
	default:
		return 1.5
	}
}
