package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type (
	qvalidatorApp struct {
		baseCmd    *cobra.Command
		baseConfig *baseConfiguration
	}
)

// New creates a new QValidator application
func New() *qvalidatorApp {
	baseCmd, baseConfig := newBaseCmd()
	return &qvalidatorApp{baseCmd, baseConfig}
}

// Execute adds all child commands and runs the application
func (a *qvalidatorApp) Execute(ctx context.Context) error {
	return a.addAndExecuteCommand(ctx)
}

func (a *qvalidatorApp) addAndExecuteCommand(ctx context.Context) error {
	a.baseCmd.AddCommand(newNodeCmd(a.baseConfig))
	a.baseCmd.AddCommand(newKeysCmd(a.baseConfig))
	a.baseCmd.AddCommand(newOperationCmd(a.baseConfig))
	a.baseCmd.AddCommand(newValidatorCmd(a.baseConfig))
	return a.baseCmd.ExecuteContext(ctx)
}

func newBaseCmd() (*cobra.Command, *baseConfiguration) {
	config := &baseConfiguration{}
	// baseCmd represents the base command when called without any subcommands
	var baseCmd = &cobra.Command{
		Use:   "qvalidator",
		Short: "The QValidator CLI",
		Long: `The QValidator CLI includes commands to run the JAM coordinator node, to manage
keys and to submit and validate cross-chain operations.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// If subcommand does not define PersistentPreRunE, the one from base cmd is used.
			if err := initializeConfig(cmd, config); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			return nil
		},
	}
	config.addConfigurationFlags(baseCmd)

	return baseCmd, config
}

func initializeConfig(cmd *cobra.Command, config *baseConfiguration) error {
	var errs []error

	if err := config.initializeConfig(cmd); err != nil {
		errs = append(errs, fmt.Errorf("reading configuration: %w", err))
	}

	if err := config.initLogger(cmd); err != nil {
		errs = append(errs, fmt.Errorf("initializing logger: %w", err))
	}

	return errors.Join(errs...)
}

// initializeConfig resolves the home directory and the config file, then sets the
// flags not given on the command line from the environment or from the config
// file, in that order of preference.
func (config *baseConfiguration) initializeConfig(cmd *cobra.Command) error {
	if err := config.initConfigFileLocation(); err != nil {
		return err
	}

	v := viper.New()
	if config.configFileExists() {
		v.SetConfigFile(config.CfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", config.CfgFile, err)
		}
	}
	// --block-interval is read from QV_BLOCK_INTERVAL
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return bindFlags(cmd.Flags(), v)
}

func bindFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		// resolved before viper is created
		if f.Name == keyHome || f.Name == keyConfig || f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := flags.Set(f.Name, v.GetString(f.Name)); err != nil {
			errs = append(errs, fmt.Errorf("setting flag %q value: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}
