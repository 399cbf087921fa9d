package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Playback PlaybackConfig `yaml:"playback"`
	Loader   LoaderConfig   `yaml:"loader"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type PlaybackConfig struct {
	// TickInterval is the internal drive-signal spacing when the host does
	// not supply its own refresh signal.
	TickInterval time.Duration `yaml:"tick_interval"`
	SeekLatency  time.Duration `yaml:"seek_latency"`
}

type LoaderConfig struct {
	AssetRoot    string `yaml:"asset_root"`
	CacheEntries int    `yaml:"cache_entries"`
	DocumentDPI  int    `yaml:"document_dpi"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Playback: PlaybackConfig{
			TickInterval: 16 * time.Millisecond,
			SeekLatency:  2 * time.Millisecond,
		},
		Loader: LoaderConfig{
			AssetRoot:    "",
			CacheEntries: 128,
			DocumentDPI:  150,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
