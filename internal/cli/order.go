package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/tutu-network/poco/internal/daemon"
	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/security"
)

func init() {
	orderSignCmd.Flags().StringVar(&orderKeyFile, "key", "", "File holding the hex private key (default: the node key)")
	orderCmd.AddCommand(orderHashCmd, orderSignCmd)
	rootCmd.AddCommand(orderCmd)
}

var orderKeyFile string

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Hash and sign orders",
	Long: `Order files are JSON objects naming the kind and carrying the order:

  {"kind": "app", "apporder": {"app": "0x...", "appprice": 1000, ...}}

Hashes use the EIP-712 domain of the node configuration.`,
}

var orderHashCmd = &cobra.Command{
	Use:   "hash FILE",
	Short: "Print an order's identity hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := configHasher()
		if err != nil {
			return err
		}
		o, err := readOrder(args[0])
		if err != nil {
			return err
		}
		hash, err := orderHash(h, &o)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash.Hex())
		return nil
	},
}

var orderSignCmd = &cobra.Command{
	Use:   "sign FILE",
	Short: "Sign an order and print it with its signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := configHasher()
		if err != nil {
			return err
		}
		o, err := readOrder(args[0])
		if err != nil {
			return err
		}
		kp, err := loadKey(orderKeyFile)
		if err != nil {
			return err
		}
		if err := signOrder(kp, h, &o); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), o)
	},
}

func configHasher() (*security.Hasher, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	return security.NewHasher(cfg.Domain), nil
}

func readOrder(path string) (domain.OrderOperationArgs, error) {
	var o domain.OrderOperationArgs
	data, err := os.ReadFile(path)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("parse order: %w", err)
	}
	return o, nil
}

func loadKey(path string) (*security.Keypair, error) {
	if path == "" {
		return nodeKeypair()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	return security.KeypairFromHex(string(data))
}

func orderHash(h *security.Hasher, o *domain.OrderOperationArgs) (common.Hash, error) {
	switch {
	case o.Kind == domain.KindApp && o.App != nil:
		return h.AppOrder(o.App), nil
	case o.Kind == domain.KindDataset && o.Dataset != nil:
		return h.DatasetOrder(o.Dataset), nil
	case o.Kind == domain.KindWorkerpool && o.Workerpool != nil:
		return h.WorkerpoolOrder(o.Workerpool), nil
	case o.Kind == domain.KindRequest && o.Request != nil:
		return h.RequestOrder(o.Request), nil
	}
	return common.Hash{}, fmt.Errorf("order file must carry a %q order", o.Kind)
}

func signOrder(kp *security.Keypair, h *security.Hasher, o *domain.OrderOperationArgs) error {
	switch {
	case o.Kind == domain.KindApp && o.App != nil:
		return kp.SignAppOrder(h, o.App)
	case o.Kind == domain.KindDataset && o.Dataset != nil:
		return kp.SignDatasetOrder(h, o.Dataset)
	case o.Kind == domain.KindWorkerpool && o.Workerpool != nil:
		return kp.SignWorkerpoolOrder(h, o.Workerpool)
	case o.Kind == domain.KindRequest && o.Request != nil:
		return kp.SignRequestOrder(h, o.Request)
	}
	return fmt.Errorf("order file must carry a %q order", o.Kind)
}
