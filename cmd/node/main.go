package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"PrivMesh/internal/config"
	"PrivMesh/internal/logger"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "privmesh",
		Short: "PrivMesh — privacy-preserving P2P overlay node",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a PrivMesh node",
		RunE:  runStart,
	}

	startCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: ./config.yaml)")
	rootCmd.AddCommand(startCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger.Init(cfg.Log.Level)

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	return node.Run()
}
