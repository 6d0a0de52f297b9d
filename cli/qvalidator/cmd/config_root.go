package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matrix-magiq/qvalidator/logger"
	"github.com/spf13/cobra"
)

type (
	baseConfiguration struct {
		HomeDir    string
		CfgFile    string // relative to HomeDir unless absolute
		LogCfgFile string // relative to HomeDir unless absolute
	}
)

const (
	envPrefix               = "QV"
	defaultConfigFile       = "config.props"
	defaultHomeDir          = ".qvalidator"
	defaultLoggerConfigFile = "logger-config.yaml"

	keyHome   = "home"
	keyConfig = "config"

	flagNameLoggerCfgFile = "logger-config"
	flagNameLogLevel      = "log-level"
)

func (r *baseConfiguration) addConfigurationFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&r.HomeDir, keyHome, "", fmt.Sprintf("set the QV_HOME for this invocation (default is $HOME/%s)", defaultHomeDir))
	cmd.PersistentFlags().StringVar(&r.CfgFile, keyConfig, "", fmt.Sprintf("config file URL (default is $QV_HOME/%s)", defaultConfigFile))
	cmd.PersistentFlags().StringVar(&r.LogCfgFile, flagNameLoggerCfgFile, defaultLoggerConfigFile, "logger config file URL. Considered absolute if starts with '/'. Otherwise relative from $QV_HOME.")
	// no default value, the level from the logger config file is used when not set
	cmd.PersistentFlags().String(flagNameLogLevel, "", "logging level, one of: NONE, ERROR, WARNING, INFO, DEBUG, TRACE")
}

// initConfigFileLocation resolves the home dir and the config file from the
// flag, then from the environment, then falls back to the default.
func (r *baseConfiguration) initConfigFileLocation() error {
	if r.HomeDir = firstNonEmpty(r.HomeDir, os.Getenv(envKey(keyHome))); r.HomeDir == "" {
		dir, err := qvalidatorHomeDir()
		if err != nil {
			return err
		}
		r.HomeDir = dir
	}
	r.CfgFile = firstNonEmpty(r.CfgFile, os.Getenv(envKey(keyConfig)), defaultConfigFile)
	if !filepath.IsAbs(r.CfgFile) {
		r.CfgFile = filepath.Join(r.HomeDir, r.CfgFile)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// LoggerCfgFilename returns the logger config file, relative names are resolved against the home dir.
func (r *baseConfiguration) LoggerCfgFilename() string {
	if !filepath.IsAbs(r.LogCfgFile) {
		return filepath.Join(r.HomeDir, r.LogCfgFile)
	}
	return r.LogCfgFile
}

func (r *baseConfiguration) configFileExists() bool {
	_, err := os.Stat(r.CfgFile)
	return err == nil
}

/*
initLogger loads the global logger configuration from the logger config file
(missing default file is not an error) and applies the log level flag on top of it.
*/
func (r *baseConfiguration) initLogger(cmd *cobra.Command) error {
	loggerCfgFile := filepath.Clean(r.LoggerCfgFilename())
	if _, err := os.Stat(loggerCfgFile); err != nil {
		defaultLoggerCfg := filepath.Join(r.HomeDir, defaultLoggerConfigFile)
		if !(errors.Is(err, os.ErrNotExist) && loggerCfgFile == defaultLoggerCfg) {
			return fmt.Errorf("opening logger configuration file: %w", err)
		}
	} else if err := logger.UpdateGlobalConfigFromFile(loggerCfgFile); err != nil {
		return fmt.Errorf("loading logger configuration (%s): %w", loggerCfgFile, err)
	}

	if cmd.Flags().Changed(flagNameLogLevel) {
		level, err := cmd.Flags().GetString(flagNameLogLevel)
		if err != nil {
			return fmt.Errorf("failed to read %s flag value: %w", flagNameLogLevel, err)
		}
		logger.SetLevel(logger.LevelFromString(level))
	}
	return nil
}

func envKey(key string) string {
	return strings.ToUpper(envPrefix + "_" + key)
}

func qvalidatorHomeDir() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("user home dir not defined: %w", err)
	}
	return filepath.Join(dir, defaultHomeDir), nil
}
