package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <recipient-address> <message>",
	Short: "Start (or re-use) a room with a peer and send one message",
	Args:  cobra.ExactArgs(2),
	Long: `send enrolls and publishes the wallet's messaging identity if needed,
establishes a room with the recipient (StartConversation), and appends one
encrypted message to it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()

		if err := rt.ceremony.Enable(ctx); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if err := rt.ceremony.InitMessaging(ctx); err != nil {
			return fmt.Errorf("send: %w", err)
		}

		recipient := common.HexToAddress(args[0])
		message := args[1]

		rm, err := rt.engine.StartConversation(ctx, recipient)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if err := rt.engine.SendMessage(ctx, rm.ID, message); err != nil {
			return fmt.Errorf("send: %w", err)
		}

		fmt.Printf("sent to room %s\n", rm.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
