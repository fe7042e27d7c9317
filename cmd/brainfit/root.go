package main

import (
	"encoding/json"
	"os"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brainfit/brainfit/internal/config"
	"github.com/brainfit/brainfit/pkg/check"
	"github.com/brainfit/brainfit/pkg/logger"
)

const defaultConfigPath = "brainfit.yaml"

var rootCmd = &cobra.Command{
	Use:           "brainfit",
	Short:         "Train, evaluate and explain classifiers over repeated runs",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrain(cmd.Context(), trainArgs{})
	},
}

// initializeConfig layers the config file, environment variables and flags over the defaults,
// validates the result and applies its logging options.
func initializeConfig() (*config.Config, error) {
	// Flags and env may point at a different config file, so resolve them once before reading it.
	bootstrap, err := getConfig(v.AllSettings())
	if err != nil {
		return nil, err
	}
	bs, err := readConfigFile(bootstrap.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := mergeConfigBytesIntoViper(bs); err != nil {
		return nil, err
	}

	c, err := getConfig(v.AllSettings())
	if err != nil {
		return nil, err
	}
	if err := check.Validate(c); err != nil {
		return nil, err
	}
	logger.SetLogrus(c.Log)

	if printable, err := c.Printable(); err != nil {
		return nil, err
	} else if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("brainfit configuration: %s", printable)
	}
	return c, nil
}

// readConfigFile returns the file contents, or nothing when the default file does not exist.
func readConfigFile(path string) ([]byte, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	bs, err := os.ReadFile(path) // #nosec G304
	switch {
	case err == nil:
		return bs, nil
	case !explicit && os.IsNotExist(err):
		log.Debugf("no configuration file at %s, skipping", path)
		return nil, nil
	default:
		return nil, errors.Wrapf(err, "reading configuration file %s", path)
	}
}

func mergeConfigBytesIntoViper(bs []byte) error {
	var configMap map[string]interface{}
	if err := yaml.Unmarshal(bs, &configMap); err != nil {
		return errors.Wrap(err, "error unmarshal yaml configuration file")
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return errors.Wrap(err, "error merge configuration to viper")
	}
	return nil
}

func getConfig(configMap map[string]interface{}) (*config.Config, error) {
	c := config.DefaultConfig()
	bs, err := json.Marshal(configMap)
	if err != nil {
		return nil, errors.Wrap(err, "cannot marshal configuration map into json bytes")
	}
	if err = yaml.Unmarshal(bs, &c, yaml.DisallowUnknownFields); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal configuration")
	}

	if err := c.Resolve(); err != nil {
		return nil, err
	}
	return c, nil
}
