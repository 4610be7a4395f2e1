package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/tutu-network/poco/internal/app/poco"
	"github.com/tutu-network/poco/internal/daemon"
)

func init() {
	rootCmd.AddCommand(accountCmd, depositCmd, withdrawCmd, dealCmd, taskCmd, checkCmd)
}

var accountCmd = &cobra.Command{
	Use:   "account ADDRESS",
	Short: "Show an account's escrow balances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		return withDaemon(func(d *daemon.Daemon) error {
			return printAccount(cmd, d.Engine, addr)
		})
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit ADDRESS AMOUNT",
	Short: "Credit an account's available balance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFunds(cmd, args, (*poco.Engine).Deposit)
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw ADDRESS AMOUNT",
	Short: "Debit an account's available balance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFunds(cmd, args, (*poco.Engine).Withdraw)
	},
}

func runFunds(cmd *cobra.Command, args []string, op func(*poco.Engine, context.Context, common.Address, uint64) error) error {
	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	return withDaemon(func(d *daemon.Daemon) error {
		if err := op(d.Engine, context.Background(), addr, amount); err != nil {
			return err
		}
		return printAccount(cmd, d.Engine, addr)
	})
}

func printAccount(cmd *cobra.Command, e *poco.Engine, addr common.Address) error {
	acct, err := e.Account(context.Background(), addr)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Address:    %s\n", acct.Address.Hex())
	fmt.Fprintf(out, "Available:  %d\n", acct.Available)
	fmt.Fprintf(out, "Frozen:     %d\n", acct.Frozen)
	return nil
}

var dealCmd = &cobra.Command{
	Use:   "deal DEAL_ID",
	Short: "Show a deal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseHash(args[0])
		if err != nil {
			return err
		}
		return withDaemon(func(d *daemon.Daemon) error {
			deal, err := d.Engine.Deal(context.Background(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), deal)
		})
	},
}

var taskCmd = &cobra.Command{
	Use:   "task DEAL_ID INDEX",
	Short: "Show the task at an index of a deal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseHash(args[0])
		if err != nil {
			return err
		}
		index, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid index %q", args[1])
		}
		return withDaemon(func(d *daemon.Daemon) error {
			task, err := d.Engine.TaskAt(context.Background(), id, index)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), task)
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify ledger conservation and escrow exposure",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(func(d *daemon.Daemon) error {
			if err := d.Engine.CheckInvariants(context.Background()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ledger invariants hold")
			return nil
		})
	},
}
