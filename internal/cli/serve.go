package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tutu-network/poco/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveStorage, "storage", "", "Storage driver: sqlite or memory (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost    string
	servePort    int
	serveStorage string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the settlement node API server",
	Long:  `Start the ledger HTTP API using $POCO_HOME/config.toml.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveStorage != "" {
		cfg.Storage.Driver = serveStorage
	}

	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(context.Background())
}
