package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cosmossdk.io/log"
	"github.com/cometbft/cometbft/abci/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hillchain/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hilld",
		Short: "King-of-the-hill ABCI application server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run()
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("home", ".hill", "app home directory (state will be stored under <home>/app)")
	cmd.Flags().String("addr", "tcp://127.0.0.1:26658", "ABCI listen address")
	cmd.Flags().String("transport", "socket", "ABCI transport (socket|grpc)")

	viper.SetEnvPrefix("HILLD")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}

	return cmd
}

func run() error {
	logger := log.NewLogger(os.Stderr)

	a, err := app.New(viper.GetString("home"), logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	srv, err := server.NewServer(viper.GetString("addr"), viper.GetString("transport"), a)
	if err != nil {
		return fmt.Errorf("start abci server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("abci server start: %w", err)
	}
	defer func() { _ = srv.Stop() }()

	logger.Info("abci server listening", "addr", viper.GetString("addr"), "transport", viper.GetString("transport"))

	// Wait for signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}
