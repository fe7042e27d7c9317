package main

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/brainfit/brainfit/internal/config"
)

var v *viper.Viper

// viperKeyDelimiter marks nested values in the configuration. With ".", viper could not tell a
// key containing a dot (such as a hyperparameter name) from a nested object.
const viperKeyDelimiter = ".."

//nolint:gochecknoinit
func init() {
	rootCmd.Version = version
	registerConfig()
	rootCmd.AddCommand(trainCmd, serveCmd, reportCmd)
}

type configKey []string

func (c configKey) EnvName() string {
	return "BRAINFIT_" + strings.ReplaceAll(strings.ToUpper(c.FlagName()), "-", "_")
}

func (c configKey) AccessPath() string {
	return strings.ReplaceAll(strings.Join(c, viperKeyDelimiter), "-", "_")
}

func (c configKey) FlagName() string {
	return strings.Join(c, "-")
}

type flagValue interface {
	string | bool | int | float64
}

// register defines a flag for key and binds it, with its BRAINFIT_* environment variable, to the
// same viper path.
func register[T flagValue](flags *pflag.FlagSet, key configKey, value T, usage string) {
	switch d := any(value).(type) {
	case string:
		flags.String(key.FlagName(), d, usage)
	case bool:
		flags.Bool(key.FlagName(), d, usage)
	case int:
		flags.Int(key.FlagName(), d, usage)
	case float64:
		flags.Float64(key.FlagName(), d, usage)
	}
	path := key.AccessPath()
	_ = v.BindEnv(path, key.EnvName())
	_ = v.BindPFlag(path, flags.Lookup(key.FlagName()))
	v.SetDefault(path, value)
}

func registerConfig() {
	v = viper.NewWithOptions(viper.KeyDelimiter(viperKeyDelimiter))
	v.SetTypeByDefaultValue(true)

	defaults := config.DefaultConfig()

	flags := rootCmd.PersistentFlags()
	name := func(components ...string) configKey { return components }

	register(flags, name("config-file"),
		defaults.ConfigFile, "location of config file")

	register(flags, name("log", "level"),
		defaults.Log.Level, "choose logging level from [trace, debug, info, warn, error, fatal]")
	register(flags, name("log", "color"),
		defaults.Log.Color, "output logs in color")
	register(flags, name("log", "json"),
		defaults.Log.JSON, "output logs as JSON")

	register(flags, name("db", "user"),
		defaults.DB.User, "run history database username")
	register(flags, name("db", "password"),
		defaults.DB.Password, "run history database password")
	register(flags, name("db", "host"),
		defaults.DB.Host, "run history database host; empty disables the run history")
	register(flags, name("db", "port"),
		defaults.DB.Port, "run history database port")
	register(flags, name("db", "name"),
		defaults.DB.Name, "run history database name")
	register(flags, name("db", "ssl-mode"),
		defaults.DB.SSLMode, "database ssl mode (disable, verify-ca, ...)")
	register(flags, name("db", "ssl-root-cert"),
		defaults.DB.SSLRootCert, "database ssl root cert path")

	register(flags, name("checkpoint-storage", "type"),
		defaults.CheckpointStorage.Type, "upload checkpoints to [shared_fs, s3, gcs]; empty keeps them local")
	register(flags, name("checkpoint-storage", "host-path"),
		defaults.CheckpointStorage.HostPath, "shared_fs root directory")
	register(flags, name("checkpoint-storage", "bucket"),
		defaults.CheckpointStorage.Bucket, "s3 or gcs bucket")
	register(flags, name("checkpoint-storage", "prefix"),
		defaults.CheckpointStorage.Prefix, "key prefix inside the bucket")
	register(flags, name("checkpoint-storage", "region"),
		defaults.CheckpointStorage.Region, "s3 region")
	register(flags, name("checkpoint-storage", "endpoint-url"),
		defaults.CheckpointStorage.EndpointURL, "s3 endpoint for compatible object stores")

	register(flags, name("api", "listen"),
		defaults.API.Listen, "address the serve command listens on")
	register(flags, name("api", "log-buffer-size"),
		defaults.API.LogBufferSize, "number of log entries kept for /api/v1/logs")

	register(flags, name("training", "output-dir"),
		defaults.Training.OutputDir, "directory checkpoints are written under")
	register(flags, name("training", "optimizer"),
		defaults.Training.Optimizer, "optimizer [adam, sgd]")
	register(flags, name("training", "device"),
		defaults.Training.Device, "device hint passed to the model")
	register(flags, name("training", "epoch"),
		defaults.Training.Epoch, "epochs per repeat")
	register(flags, name("training", "batch-size"),
		defaults.Training.BatchSize, "training batch size")
	register(flags, name("training", "learning-rate"),
		defaults.Training.LearningRate, "optimizer learning rate")
	register(flags, name("training", "checkpoint-epoch"),
		defaults.Training.CheckpointEpoch, "export a checkpoint every n epochs; 0 exports only at the end")
	register(flags, name("training", "repeat-num"),
		defaults.Training.RepeatNum, "independent repeats per dataset")
	register(flags, name("training", "evaluation-option"),
		string(defaults.Training.EvaluationOption), "which model the final evaluation uses")
	register(flags, name("training", "seed"),
		int(defaults.Training.Seed), "base seed; repeat i uses seed+i")
	register(flags, name("training", "pretrained-path"),
		defaults.Training.PretrainedPath, "model state to start every repeat from")

	register(flags, name("model", "name"),
		defaults.Model.Name, "model architecture")
}
