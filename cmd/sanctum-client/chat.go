package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arlomercer/sanctum/internal/protocol"
	"github.com/arlomercer/sanctum/pkg/client"
)

var chatTimeout time.Duration

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one text message and print the streamed reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		serverErrs := make(chan string, 4)
		c, err := dialRelay(nil, func(c *client.Client) {
			c.OnServerError = func(p protocol.ErrorPayload) { serverErrs <- p.Message }
		})
		if err != nil {
			return err
		}
		defer c.Disconnect()

		if _, ok := c.SendText(text); !ok {
			return fmt.Errorf("send failed: %v", c.Conn.LastError())
		}

		deadline := time.After(chatTimeout)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		printed := 0
		for {
			select {
			case msg := <-serverErrs:
				return fmt.Errorf("relay error: %s", msg)
			case <-deadline:
				return fmt.Errorf("no complete reply within %s", chatTimeout)
			case <-ticker.C:
			}

			for _, m := range c.Conversation.Messages() {
				if m.Sender != client.SenderAI {
					continue
				}
				if len(m.Content) > printed {
					fmt.Print(m.Content[printed:])
					printed = len(m.Content)
				}
				if m.Status == client.StatusCompleted {
					fmt.Println()
					return nil
				}
				if m.Status == client.StatusError {
					fmt.Println()
					return fmt.Errorf("reply failed mid-stream")
				}
			}
		}
	},
}

func init() {
	chatCmd.Flags().DurationVar(&chatTimeout, "timeout", 60*time.Second, "how long to wait for the full reply")
}
