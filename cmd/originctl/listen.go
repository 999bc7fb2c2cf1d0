package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/originprotocol/origin-messaging-go/conversation"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Enroll, publish, subscribe to the live stream, and print incoming messages",
	Long: `listen runs the full Initialize sequence (Enable -> InitMessaging ->
Subscribe -> Ready) and prints every decoded message event until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt.engine.OnEvent(func(ev conversation.Event) {
			switch ev.Type {
			case conversation.EventMsg:
				content := ""
				if ev.Message.Message.Content != nil {
					content = *ev.Message.Message.Content
				}
				fmt.Printf("[%s] %s: %s\n", ev.RoomID, ev.Message.SenderAddress, content)
			case conversation.EventEmsg:
				fmt.Printf("[%s] undecodable message: %v\n", ev.RoomID, ev.Err)
			case conversation.EventReady:
				fmt.Printf("ready, listening as %s\n", rt.wallet)
			}
		})

		if err := rt.engine.Initialize(ctx); err != nil {
			return fmt.Errorf("listen: %w", err)
		}

		<-ctx.Done()
		fmt.Println("shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
}
