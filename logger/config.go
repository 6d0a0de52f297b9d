package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultTimeLocation = "Local"

// GlobalConfig is the application wide logging configuration.
type GlobalConfig struct {
	DefaultLevel    LogLevel
	PackageLevels   map[string]LogLevel
	Writer          io.Writer
	ConsoleFormat   bool
	ShowCaller      bool
	TimeLocation    string
	ShowGoroutineID bool
}

// fileConfig is the YAML representation of GlobalConfig.
type fileConfig struct {
	DefaultLevel    string            `yaml:"defaultLevel"`
	PackageLevels   map[string]string `yaml:"packageLevels"`
	OutputPath      string            `yaml:"outputPath"`
	ConsoleFormat   bool              `yaml:"consoleFormat"`
	ShowCaller      bool              `yaml:"showCaller"`
	TimeLocation    string            `yaml:"timeLocation"`
	ShowGoroutineID bool              `yaml:"showGoroutineID"`
}

// developerConfiguration is used until the application sets up logging.
func developerConfiguration() GlobalConfig {
	return GlobalConfig{
		DefaultLevel:  DEBUG,
		PackageLevels: map[string]LogLevel{},
		Writer:        os.Stdout,
		ConsoleFormat: true,
		ShowCaller:    true,
		TimeLocation:  defaultTimeLocation,
	}
}

func loadGlobalConfigFromFile(fileName string) (GlobalConfig, error) {
	yamlFile, err := os.ReadFile(filepath.Clean(fileName))
	if err != nil {
		return GlobalConfig{}, fmt.Errorf("failed to read logger config file: %w", err)
	}
	return parseGlobalConfig(yamlFile)
}

func parseGlobalConfig(data []byte) (GlobalConfig, error) {
	config := &fileConfig{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return GlobalConfig{}, fmt.Errorf("failed to unmarshal logger config: %w", err)
	}
	globalConfig := GlobalConfig{
		DefaultLevel:    LevelFromString(config.DefaultLevel),
		PackageLevels:   make(map[string]LogLevel, len(config.PackageLevels)),
		Writer:          os.Stdout,
		ConsoleFormat:   config.ConsoleFormat,
		ShowCaller:      config.ShowCaller,
		TimeLocation:    config.TimeLocation,
		ShowGoroutineID: config.ShowGoroutineID,
	}
	if config.OutputPath != "" {
		file, err := os.OpenFile(config.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // -rw-------
		if err != nil {
			return GlobalConfig{}, fmt.Errorf("failed to open log file: %w", err)
		}
		globalConfig.Writer = file
	}
	for k, v := range config.PackageLevels {
		globalConfig.PackageLevels[k] = LevelFromString(v)
	}
	return globalConfig, nil
}
