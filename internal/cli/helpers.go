package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tutu-network/poco/internal/daemon"
	"github.com/tutu-network/poco/internal/security"
)

// withDaemon opens the node state described by the config file, runs fn,
// and closes everything.
func withDaemon(fn func(d *daemon.Daemon) error) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	// Commands share the log file with a running node but stay quiet on
	// the terminal.
	cfg.Logging.Console = false
	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(d)
}

// nodeKeypair loads or creates the node key in the configured data dir.
func nodeKeypair() (*security.Keypair, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	return security.LoadOrCreateKeypair(cfg.Node.DataDir)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash %q", s)
	}
	return common.BytesToHash(b), nil
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
