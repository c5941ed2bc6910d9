package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arlomercer/sanctum/internal/protocol"
	"github.com/arlomercer/sanctum/pkg/client"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check relay liveness",
	RunE: func(_ *cobra.Command, _ []string) error {
		pongs := make(chan protocol.Pong, 1)
		c, err := dialRelay(nil, func(c *client.Client) {
			c.OnPong = func(p protocol.Pong) { pongs <- p }
		})
		if err != nil {
			return err
		}
		defer c.Disconnect()

		start := time.Now()
		if !c.Ping() {
			return fmt.Errorf("socket closed before ping could be sent")
		}
		select {
		case p := <-pongs:
			fmt.Printf("pong: session=%s rtt=%s\n", p.SessionID, time.Since(start).Round(time.Millisecond))
			return nil
		case <-time.After(5 * time.Second):
			return fmt.Errorf("no pong within 5s")
		}
	},
}
