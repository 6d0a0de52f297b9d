package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/matrix-magiq/qvalidator/client"
	"github.com/matrix-magiq/qvalidator/events"
	"github.com/matrix-magiq/qvalidator/rpc"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/matrix-magiq/qvalidator/wallet/account"
	"github.com/spf13/cobra"
)

const (
	nodeURLCmdFlag = "node-url"
)

type clientConfig struct {
	keysConfig
	NodeURL string
}

func (c *clientConfig) addCmdFlags(cmd *cobra.Command) {
	c.keysConfig.addCmdFlags(cmd)
	cmd.PersistentFlags().StringVarP(&c.NodeURL, nodeURLCmdFlag, "u", defaultNodeAddress, "node REST API url")
}

// client returns API client which can't sign requests.
func (c *clientConfig) client() (*client.QValidatorClient, error) {
	return client.New(c.NodeURL, nil)
}

// signedClient returns API client which signs requests with the key from the key file.
func (c *clientConfig) signedClient() (*client.QValidatorClient, *account.AccountKey, error) {
	signer, key, err := c.signer()
	if err != nil {
		return nil, nil, err
	}
	cl, err := client.New(c.NodeURL, signer)
	if err != nil {
		return nil, nil, err
	}
	return cl, key, nil
}

func newOperationCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &clientConfig{keysConfig: keysConfig{Base: baseConfig}}
	var opCmd = &cobra.Command{
		Use:   "operation",
		Short: "Submits, validates and queries cross-chain operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("must specify a subcommand")
		},
	}
	config.addCmdFlags(opCmd)
	opCmd.AddCommand(submitOperationCmd(config))
	opCmd.AddCommand(voteCmd(config))
	opCmd.AddCommand(queryOperationCmd(config, "get", "Prints the operation record", func(c *client.QValidatorClient, cmd *cobra.Command, id types.OperationID) (any, error) {
		return c.GetOperation(cmd.Context(), id)
	}))
	opCmd.AddCommand(queryOperationCmd(config, "status", "Prints the status of the operation", func(c *client.QValidatorClient, cmd *cobra.Command, id types.OperationID) (any, error) {
		status, err := c.GetOperationStatus(cmd.Context(), id)
		if err != nil {
			return nil, err
		}
		return &rpc.OperationStatusResponse{OperationID: id, Status: status}, nil
	}))
	opCmd.AddCommand(queryOperationCmd(config, "proof", "Prints the JAM proof of the operation", func(c *client.QValidatorClient, cmd *cobra.Command, id types.OperationID) (any, error) {
		return c.GetOperationProof(cmd.Context(), id)
	}))
	opCmd.AddCommand(queryOperationCmd(config, "result", "Prints the validation result of the operation", func(c *client.QValidatorClient, cmd *cobra.Command, id types.OperationID) (any, error) {
		return c.GetValidationResult(cmd.Context(), id)
	}))
	opCmd.AddCommand(queryOperationCmd(config, "attestations", "Prints the votes cast on the operation", func(c *client.QValidatorClient, cmd *cobra.Command, id types.OperationID) (any, error) {
		return c.GetAttestations(cmd.Context(), id)
	}))
	opCmd.AddCommand(blockCmd(config))
	opCmd.AddCommand(listOperationsCmd(config))
	opCmd.AddCommand(watchCmd(config))
	return opCmd
}

func submitOperationCmd(config *clientConfig) *cobra.Command {
	var kind, payloadHex, payloadJSON string
	var targetChain uint32
	var expiresIn, expiresAt uint64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submits new cross-chain operation",
		Long: `Submits new cross-chain operation. The payload must be CBOR data item, it is
given either as hex or as JSON which is converted to CBOR.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := types.ParseKind(kind)
			if err != nil {
				return err
			}
			payload, err := parsePayload(payloadHex, payloadJSON)
			if err != nil {
				return err
			}
			c, _, err := config.signedClient()
			if err != nil {
				return err
			}
			if expiresAt == 0 {
				height, err := c.GetBlockHeight(cmd.Context())
				if err != nil {
					return err
				}
				expiresAt = height + expiresIn
			}
			id, err := c.SubmitOperation(cmd.Context(), &rpc.SubmitOperationRequest{
				TargetChain: targetChain,
				Kind:        k,
				Payload:     payload,
				ExpiresAt:   expiresAt,
			})
			if err != nil {
				return err
			}
			consoleWriter.Printf("Operation %s submitted, expires at block %d\n", id, expiresAt)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", types.NewKind(types.AssetTransfer).String(), "operation type, ie asset_transfer, message_passing or custom:<code>")
	cmd.Flags().Uint32Var(&targetChain, "target-chain", 0, "target chain identifier")
	cmd.Flags().StringVar(&payloadHex, "payload", "", "CBOR encoded payload as hex")
	cmd.Flags().StringVar(&payloadJSON, "payload-json", "", "payload as JSON, converted to CBOR")
	cmd.Flags().Uint64Var(&expiresIn, "expires-in", 100, "number of blocks from the current block the operation expires in")
	cmd.Flags().Uint64Var(&expiresAt, "expires-at", 0, "block number the operation expires at, takes precedence over --expires-in")
	cmd.MarkFlagsMutuallyExclusive("payload", "payload-json")
	return cmd
}

func parsePayload(payloadHex, payloadJSON string) ([]byte, error) {
	switch {
	case payloadHex != "":
		b, err := types.DecodeHex(payloadHex)
		if err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		return b, nil
	case payloadJSON != "":
		var v any
		if err := json.Unmarshal([]byte(payloadJSON), &v); err != nil {
			return nil, fmt.Errorf("invalid payload JSON: %w", err)
		}
		return types.Cbor.Marshal(v)
	default:
		return nil, errors.New("payload is required, use --payload or --payload-json")
	}
}

func voteCmd(config *clientConfig) *cobra.Command {
	var reject bool
	cmd := &cobra.Command{
		Use:   "vote <operation id>",
		Short: "Casts validator vote on the operation",
		Long:  "Casts validator vote on the operation. The JAM proof of the operation is fetched from the node and attached to the vote.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseOperationID(args[0], types.DefaultHashAlgorithm)
			if err != nil {
				return err
			}
			c, _, err := config.signedClient()
			if err != nil {
				return err
			}
			proof, err := c.GetOperationProof(cmd.Context(), id)
			if err != nil {
				return err
			}
			vote := types.VoteApprove
			if reject {
				vote = types.VoteReject
			}
			receipt, err := c.CastVote(cmd.Context(), id, vote, proof)
			if err != nil {
				return err
			}
			return printJSON(receipt)
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "vote to reject the operation")
	return cmd
}

func queryOperationCmd(config *clientConfig, use, short string, query func(c *client.QValidatorClient, cmd *cobra.Command, id types.OperationID) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <operation id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseOperationID(args[0], types.DefaultHashAlgorithm)
			if err != nil {
				return err
			}
			c, err := config.client()
			if err != nil {
				return err
			}
			res, err := query(c, cmd, id)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func blockCmd(config *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "block [block number]",
		Short: "Prints the operations submitted in the block, the latest block by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.client()
			if err != nil {
				return err
			}
			var n uint64
			if len(args) == 1 {
				if n, err = strconv.ParseUint(args[0], 10, 64); err != nil {
					return fmt.Errorf("invalid block number: %w", err)
				}
			} else if n, err = c.GetBlockHeight(cmd.Context()); err != nil {
				return err
			}
			ids, err := c.GetBlockOperations(cmd.Context(), n)
			if err != nil {
				return err
			}
			return printJSON(&rpc.BlockResponse{Number: n, Operations: ids})
		},
	}
}

func listOperationsCmd(config *clientConfig) *cobra.Command {
	var statusNames []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Prints summaries of all operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]types.OperationStatus, len(statusNames))
			for i, s := range statusNames {
				if err := statuses[i].UnmarshalText([]byte(s)); err != nil {
					return err
				}
			}
			c, err := config.client()
			if err != nil {
				return err
			}
			ops, err := c.ListOperations(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			return printJSON(ops)
		},
	}
	cmd.Flags().StringSliceVar(&statusNames, "status", nil, "list only operations in the status, can be repeated")
	return cmd
}

func watchCmd(config *clientConfig) *cobra.Command {
	var kindNames []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Prints the events of the node as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := make([]events.Kind, len(kindNames))
			for i, s := range kindNames {
				k, err := events.ParseKind(s)
				if err != nil {
					return err
				}
				kinds[i] = k
			}
			c, err := config.client()
			if err != nil {
				return err
			}
			err = c.WatchEvents(cmd.Context(), func(e *client.Event) error {
				consoleWriter.Printf("%s %s\n", e.Kind, e.Message)
				return nil
			}, kinds...)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&kindNames, "kind", nil, "print only events of the kind, ie OperationValidated, can be repeated")
	return cmd
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	consoleWriter.Println(string(b))
	return nil
}
