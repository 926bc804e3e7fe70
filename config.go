package main

import (
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "GOATFS"
	appName      = "goatfs"
)

type Config struct {
	Image      string `envconfig:"IMAGE"      yaml:"image"`
	Blocks     uint32 `envconfig:"BLOCKS"     yaml:"blocks"`
	Debug      bool   `envconfig:"DEBUG"      yaml:"debug"`
	LogLevel   string `envconfig:"LOG_LEVEL"  yaml:"logLevel"`
	Mountpoint string `envconfig:"MOUNTPOINT" yaml:"mountpoint"`
}

func DefaultConfig() Config {
	return Config{
		Image:    "./image.bin",
		LogLevel: "info",
	}
}

// LoadConfig starts from the defaults, applies the YAML file at path (if
// path is empty, GOATFS_CONFIG_FILE is consulted; a missing file is fine) and
// then the GOATFS_* environment variables.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envVarPrefix + "_CONFIG_FILE")
	}

	c := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.Wrap(err, "reading config file")
			}
			logrus.Debugf("config file %s not found, using defaults", path)
		} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, errors.Wrap(err, "unmarshaling config file")
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, errors.Wrap(err, "parsing environment variables")
	}

	return &c, nil
}

func (c *Config) Validate() error {
	if c.Image == "" {
		return errors.Errorf("missing required configuration: image / %s_IMAGE", envVarPrefix)
	}
	// a superblock and at least one inode block
	if c.Blocks == 1 {
		return errors.Errorf("%s needs at least 2 blocks, got %d", appName, c.Blocks)
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return errors.Wrapf(err, "invalid configuration: logLevel / %s_LOG_LEVEL", envVarPrefix)
		}
	}
	return nil
}

// Level is the logrus level to run at; Debug wins over LogLevel.
func (c *Config) Level() logrus.Level {
	if c.Debug {
		return logrus.DebugLevel
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
