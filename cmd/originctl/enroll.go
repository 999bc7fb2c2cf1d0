package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Derive a messaging identity from the wallet's enrollment signature",
	Long: `enroll prompts the wallet for the fixed enrollment-phrase signature and
derives the messaging keypair from it (Bound -> Enrolled). It does not
publish the identity to the key server; run "originctl publish" for that.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		if err := rt.ceremony.Enable(context.Background()); err != nil {
			return fmt.Errorf("enroll: %w", err)
		}
		binding := rt.ceremony.Binding()
		fmt.Printf("wallet:            %s\n", rt.wallet)
		fmt.Printf("messaging address: %s\n", binding.MessagingAddress.Hex())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}
