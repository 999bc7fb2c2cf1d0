package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Enroll (if needed) and publish the messaging identity to the key server",
	Long: `publish runs Enable then Publish, registering the wallet's messaging
address and its publication signature with the key server (Bound ->
Enrolled -> Published). Safe to re-run: publication is idempotent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()
		if err := rt.ceremony.Enable(ctx); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		if err := rt.ceremony.Publish(ctx); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		fmt.Printf("published messaging identity for %s (state: %s)\n", rt.wallet, rt.ceremony.State())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
