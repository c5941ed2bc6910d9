package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arlomercer/sanctum/internal/protocol"
	"github.com/arlomercer/sanctum/pkg/client"
)

var (
	flagURL   string
	flagToken string
)

var rootCmd = &cobra.Command{
	Use:   "sanctum-client",
	Short: "Command-line client for the Sanctum guidance relay",
	Long: `Command-line client for the Sanctum guidance relay.

Connects to a running relay over websocket and drives it the same way
the browser client does: proxy events in, streamed deltas out.

Examples:
  sanctum-client ping
  sanctum-client chat "I feel restless today"
  sanctum-client replay question.wav --out answer.wav`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "ws://localhost:8080/ws", "relay websocket URL")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token (omit for a demo session)")
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(replayCmd)
}

// dialRelay connects and waits for the welcome frame. setup runs before
// the socket opens so callbacks are installed ahead of the first frame.
func dialRelay(sink client.Sink, setup func(*client.Client)) (*client.Client, error) {
	c := client.New(client.ConnConfig{URL: flagURL, Token: flagToken}, sink, nil)

	welcomed := make(chan protocol.WelcomePayload, 1)
	c.OnWelcome = func(w protocol.WelcomePayload) { welcomed <- w }
	if setup != nil {
		setup(c)
	}

	if err := c.Connect(); err != nil {
		return nil, err
	}
	select {
	case w := <-welcomed:
		who := w.UserID
		if !w.Authenticated {
			who += " (demo)"
		}
		fmt.Printf("connected: session=%s user=%s\n", w.SessionID, who)
		return c, nil
	case <-time.After(10 * time.Second):
		c.Disconnect()
		return nil, fmt.Errorf("no welcome frame within 10s")
	}
}
