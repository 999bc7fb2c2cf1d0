// Package main implements originctl, a demo/debug command line client for
// the messaging engine: enroll a wallet, publish its messaging identity,
// send a message, or listen for incoming ones. It wires a Signer +
// SecretStore + Engine into a small interactive CLI, grounded on
// Jasonyou1995-simple-eth-hd-wallet's cobra/viper layering.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "originctl",
	Short: "Command line client for Origin's end-to-end encrypted messaging network",
	Long: `originctl drives a wallet through the enrollment ceremony and the
conversation engine the same way an in-browser client would: derive a
messaging identity from a wallet signature, publish it to the key server,
and start, send to, or listen on encrypted rooms.`,
	Version: version,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("key-server", "", "key server base URL (default: $ORIGIN_KEY_SERVER_URL or config.Load default)")
	rootCmd.PersistentFlags().String("private-key", "", "hex-encoded wallet private key (0x-prefixed); required")
	rootCmd.PersistentFlags().String("secret-store", "", "path to a local enrollment secret file (default: in-memory only)")
	rootCmd.PersistentFlags().String("status-store", "", "path to a local read/unread status file (default: in-memory only)")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose (debug) logging")

	viper.BindPFlag("key-server", rootCmd.PersistentFlags().Lookup("key-server"))
	viper.BindPFlag("private-key", rootCmd.PersistentFlags().Lookup("private-key"))
	viper.BindPFlag("secret-store", rootCmd.PersistentFlags().Lookup("secret-store"))
	viper.BindPFlag("status-store", rootCmd.PersistentFlags().Lookup("status-store"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	viper.SetEnvPrefix("origin")
	viper.AutomaticEnv()

	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
