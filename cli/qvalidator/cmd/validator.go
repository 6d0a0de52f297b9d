package cmd

import (
	"errors"

	"github.com/matrix-magiq/qvalidator/types"
	"github.com/spf13/cobra"
)

func newValidatorCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &clientConfig{keysConfig: keysConfig{Base: baseConfig}}
	var validatorCmd = &cobra.Command{
		Use:   "validator",
		Short: "Registers and manages validators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("must specify a subcommand")
		},
	}
	config.addCmdFlags(validatorCmd)
	validatorCmd.AddCommand(registerValidatorCmd(config))
	validatorCmd.AddCommand(validatorStatusCmd(config))
	validatorCmd.AddCommand(removeValidatorCmd(config))
	validatorCmd.AddCommand(slashValidatorCmd(config))
	validatorCmd.AddCommand(getValidatorCmd(config))
	validatorCmd.AddCommand(listValidatorsCmd(config))
	return validatorCmd
}

func registerValidatorCmd(config *clientConfig) *cobra.Command {
	var stake, keyType string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Registers the account of the key file as validator",
		RunE: func(cmd *cobra.Command, args []string) error {
			var kt types.KeyType
			if err := kt.UnmarshalText([]byte(keyType)); err != nil {
				return err
			}
			c, _, err := config.signedClient()
			if err != nil {
				return err
			}
			v, err := c.RegisterValidator(cmd.Context(), stake, kt)
			if err != nil {
				return err
			}
			return printJSON(v)
		},
	}
	cmd.Flags().StringVar(&stake, "stake", "", "stake of the validator, decimal")
	cmd.Flags().StringVar(&keyType, "key-type", types.KeyTypeECDSA.String(), "signature scheme of the validator key")
	_ = cmd.MarkFlagRequired("stake")
	return cmd
}

func validatorStatusCmd(config *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "status <active|offline|leaving>",
		Short: "Changes the status of the validator of the key file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status types.ValidatorStatus
			if err := status.UnmarshalText([]byte(args[0])); err != nil {
				return err
			}
			c, key, err := config.signedClient()
			if err != nil {
				return err
			}
			v, err := c.UpdateValidatorStatus(cmd.Context(), key.AccountID, status)
			if err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}

func removeValidatorCmd(config *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Removes the validator of the key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, key, err := config.signedClient()
			if err != nil {
				return err
			}
			if err := c.RemoveValidator(cmd.Context(), key.AccountID); err != nil {
				return err
			}
			consoleWriter.Printf("Validator %s removed\n", key.AccountID)
			return nil
		},
	}
}

func slashValidatorCmd(config *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "slash <account id>",
		Short: "Slashes the validator, the key file must hold an admin key of the node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := config.signedClient()
			if err != nil {
				return err
			}
			v, err := c.SlashValidator(cmd.Context(), types.AccountID(args[0]))
			if err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}

func getValidatorCmd(config *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "get <account id>",
		Short: "Prints the validator record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.client()
			if err != nil {
				return err
			}
			v, err := c.GetValidator(cmd.Context(), types.AccountID(args[0]))
			if err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}

func listValidatorsCmd(config *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Prints all registered validators",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.client()
			if err != nil {
				return err
			}
			list, err := c.ListValidators(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(list)
		},
	}
}
