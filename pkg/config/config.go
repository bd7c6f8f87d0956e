// Package config loads the on-disk configuration. Missing file or fields
// fall back to defaults; a few settings can also come from the environment
// for container setups.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/chatmirror/chatmirror/pkg/eventbus"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "config: invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	// DBPath is the sqlite file backing the durable tier. Empty selects the
	// in-memory store (nothing survives a restart).
	DBPath string `yaml:"db_path"`

	MessageTTL    Duration `yaml:"message_ttl"`
	DialogTTL     Duration `yaml:"dialog_ttl"`
	TopicTTL      Duration `yaml:"topic_ttl"`
	RemoteTimeout Duration `yaml:"remote_timeout"`

	LogLevel string `yaml:"log_level"`

	EventTopic string            `yaml:"event_topic"`
	EventBus   eventbus.Settings `yaml:"event_bus"`
}

func Default() Config {
	return Config{
		DBPath:        defaultDBPath(),
		MessageTTL:    Duration(2 * time.Second),
		DialogTTL:     Duration(30 * time.Second),
		TopicTTL:      Duration(30 * time.Second),
		RemoteTimeout: Duration(20 * time.Second),
		LogLevel:      "info",
		EventTopic:    "chatmirror.events",
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatmirror.db"
	}
	return home + "/.cache/chatmirror/dialogs.db"
}

// Load reads the config file at path. A missing file is not an error; the
// defaults apply. Environment variables override the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fine, defaults
		case err != nil:
			return Config{}, errors.Wrap(err, "config: read file")
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, errors.Wrap(err, "config: parse yaml")
			}
		}
	}

	if v := os.Getenv("CHATMIRROR_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CHATMIRROR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHATMIRROR_REDIS_ADDR"); v != "" {
		cfg.EventBus.Enabled = true
		cfg.EventBus.Addr = v
	}

	return cfg, nil
}
