package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/poco/internal/security"
)

func init() {
	keygenCmd.Flags().BoolVar(&keygenNode, "node", false, "Create (or show) the node key in the data dir instead of printing a fresh one")
	rootCmd.AddCommand(keygenCmd)
}

var keygenNode bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a secp256k1 identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			kp  *security.Keypair
			err error
		)
		if keygenNode {
			kp, err = nodeKeypair()
		} else {
			kp, err = security.GenerateKeypair()
		}
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Address:      %s\n", kp.Address().Hex())
		if !keygenNode {
			fmt.Fprintf(out, "Private key:  %s\n", kp.PrivateKeyHex())
		}
		return nil
	},
}
