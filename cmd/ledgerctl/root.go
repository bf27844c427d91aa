package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/garyjia/receipt-ledger/internal/config"
	"github.com/garyjia/receipt-ledger/internal/container"
	"github.com/garyjia/receipt-ledger/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	verbose bool

	app *container.Container
)

var rootCmd = &cobra.Command{
	Use:           "ledgerctl",
	Short:         "Operate the receipt ledger: send drafts, inspect drafts, audit and roster",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return startApp(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return stopApp()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(sendCmd, draftsCmd, auditCmd, rosterCmd)
}

func startApp(cmd *cobra.Command) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := utils.NewCLILogger(verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	containerCfg, err := cfg.ToContainerConfig()
	if err != nil {
		return err
	}

	c, err := container.NewContainer(containerCfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(cmd.Context()); err != nil {
		return err
	}

	app = c
	return nil
}

func stopApp() error {
	if app == nil {
		return nil
	}
	defer app.Logger().Sync()

	if err := app.Close(); err != nil {
		app.Logger().Warn("Failed to close container", zap.Error(err))
		return err
	}
	app = nil
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
