package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matrix-magiq/qvalidator/crypto"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/matrix-magiq/qvalidator/util"
	"github.com/matrix-magiq/qvalidator/wallet/account"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	keyFileCmdFlag      = "key-file"
	passwordCmdFlag     = "password"
	defaultKeysFileName = "keys.json"
)

type keysConfig struct {
	Base        *baseConfiguration
	KeyFilePath string
	Password    string
}

func (kc *keysConfig) addCmdFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&kc.KeyFilePath, keyFileCmdFlag, "k", "", fmt.Sprintf("path to the key file (default: $QV_HOME/%s)", defaultKeysFileName))
	cmd.PersistentFlags().StringVarP(&kc.Password, passwordCmdFlag, "p", "", "password of the key file, prompted for when the key file is encrypted and the flag is not set")
}

func (kc *keysConfig) keyFile() string {
	if kc.KeyFilePath != "" {
		return kc.KeyFilePath
	}
	return filepath.Join(kc.Base.HomeDir, defaultKeysFileName)
}

// signer loads the account key from the key file.
func (kc *keysConfig) signer() (crypto.Signer, *account.AccountKey, error) {
	file := kc.keyFile()
	encrypted, err := account.IsEncryptedKeyFile(file)
	if err != nil {
		return nil, nil, err
	}
	password := kc.Password
	if encrypted && password == "" {
		if password, err = readPassword("Enter key file password: "); err != nil {
			return nil, nil, err
		}
	}
	key, err := account.LoadKeyFile(file, password, types.DefaultHashAlgorithm)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load key file %s: %w", file, err)
	}
	signer, err := key.Signer()
	if err != nil {
		return nil, nil, err
	}
	return signer, key, nil
}

func newKeysCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &keysConfig{Base: baseConfig}
	var keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "Manages the account key of the validator or the operation initiator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("must specify a subcommand")
		},
	}
	config.addCmdFlags(keysCmd)
	keysCmd.AddCommand(generateKeysCmd(config))
	keysCmd.AddCommand(showKeysCmd(config))
	return keysCmd
}

func generateKeysCmd(config *keysConfig) *cobra.Command {
	var mnemonic string
	var accountIndex uint64
	var encrypt, force bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generates new account key, optionally from existing mnemonic",
		RunE: func(cmd *cobra.Command, args []string) error {
			file := config.keyFile()
			if util.FileExists(file) && !force {
				return fmt.Errorf("key file %s already exists, use --force to overwrite", file)
			}
			keys, err := account.NewKeys(mnemonic, types.DefaultHashAlgorithm)
			if err != nil {
				return fmt.Errorf("failed to generate keys: %w", err)
			}
			key := keys.AccountKey
			if accountIndex != 0 {
				if key, err = account.NewAccountKey(keys.MasterKey, account.NewDerivationPath(accountIndex), types.DefaultHashAlgorithm); err != nil {
					return err
				}
			}
			password := config.Password
			if encrypt && password == "" {
				if password, err = createPassword(); err != nil {
					return err
				}
			}
			if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
				return err
			}
			if err := account.WriteKeyFile(file, key, password); err != nil {
				return fmt.Errorf("failed to write key file: %w", err)
			}
			if mnemonic == "" {
				consoleWriter.Println("The following mnemonic key can be used to recover your key. Please keep it safe.")
				consoleWriter.Println(keys.Mnemonic)
			}
			consoleWriter.Printf("Account ID: %s\nPublic key: %s\nKey file: %s\n", key.AccountID, key.PubKey, file)
			return nil
		},
	}
	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "BIP-39 mnemonic to recover the key from, new one is generated when not set")
	cmd.Flags().Uint64Var(&accountIndex, "account-index", 0, "index of the account key derived from the mnemonic")
	cmd.Flags().BoolVarP(&encrypt, "encrypt", "e", false, "encrypt the private key with password")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing key file")
	return cmd
}

func showKeysCmd(config *keysConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Prints the account id and public key of the key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, key, err := config.signer()
			if err != nil {
				return err
			}
			consoleWriter.Printf("Account ID: %s\nPublic key: %s\nDerivation path: %s\n", key.AccountID, key.PubKey, key.DerivationPath)
			return nil
		},
	}
}

func createPassword() (string, error) {
	p1, err := readPassword("Create new password: ")
	if err != nil {
		return "", err
	}
	p2, err := readPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if p1 != p2 {
		return "", errors.New("passwords do not match")
	}
	return p1, nil
}

func readPassword(promptMessage string) (string, error) {
	consoleWriter.Printf("%s", promptMessage)
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	consoleWriter.Println("") // line break after reading password
	return string(passwordBytes), nil
}
