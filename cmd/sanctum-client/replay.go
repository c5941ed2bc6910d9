package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/arlomercer/sanctum/internal/audio"
	"github.com/arlomercer/sanctum/internal/protocol"
	"github.com/arlomercer/sanctum/pkg/client"
)

var (
	replayChunkMS int
	replayRate    float64
	replayOut     string
	replayTimeout time.Duration
)

var replayCmd = &cobra.Command{
	Use:   "replay <input.wav>",
	Short: "Stream a WAV file as microphone audio and save the spoken reply",
	Long: `Stream a WAV file to the relay as if it were live microphone input,
paced in real time, then commit the buffer and wait for the assistant's
reply. Response audio deltas are collected and written out as a WAV file.

Input must be PCM16 WAV; it is resampled by the relay only in the sense
that the upstream expects 24 kHz mono, so record accordingly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if replayChunkMS < 10 || replayChunkMS > 2000 {
			return fmt.Errorf("chunk-ms must be in [10,2000]")
		}
		if replayRate <= 0 {
			return fmt.Errorf("rate must be positive")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		pcm, sampleRate, err := audio.DecodeWAVPCM16(data)
		if err != nil {
			return fmt.Errorf("decode %s: %w", args[0], err)
		}
		fmt.Printf("input: %.1fs of audio at %d Hz\n",
			audio.DurationMS(len(pcm), sampleRate)/1000, sampleRate)

		var responseMu sync.Mutex
		var responsePCM []byte
		sink := &client.TimedSink{
			OnBuffer: func(samples []float32) {
				responseMu.Lock()
				responsePCM = append(responsePCM, audio.Float32ToPCM16LE(samples)...)
				responseMu.Unlock()
			},
		}

		serverErrs := make(chan string, 4)
		c, err := dialRelay(sink, func(c *client.Client) {
			c.OnServerError = func(p protocol.ErrorPayload) { serverErrs <- p.Message }
		})
		if err != nil {
			return err
		}
		defer c.Disconnect()

		// Stream the clip in fixed-duration chunks at (roughly) the pace
		// a live microphone would produce them.
		chunkBytes := sampleRate * 2 * replayChunkMS / 1000
		pause := time.Duration(float64(replayChunkMS)/replayRate) * time.Millisecond
		sent := 0
		for off := 0; off < len(pcm); off += chunkBytes {
			end := off + chunkBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			if !c.SendAudioChunk(audio.EncodeBase64(pcm[off:end])) {
				return fmt.Errorf("audio send failed: %v", c.Conn.LastError())
			}
			sent++
			time.Sleep(pause)
		}
		if !c.CommitAudio() {
			return fmt.Errorf("commit failed: %v", c.Conn.LastError())
		}
		fmt.Printf("sent %d chunks, awaiting reply\n", sent)

		deadline := time.After(replayTimeout)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
	wait:
		for {
			select {
			case msg := <-serverErrs:
				return fmt.Errorf("relay error: %s", msg)
			case <-deadline:
				return fmt.Errorf("no complete reply within %s", replayTimeout)
			case <-ticker.C:
			}
			for _, m := range c.Conversation.Messages() {
				if m.Sender != client.SenderAI {
					continue
				}
				if m.Status == client.StatusCompleted {
					if m.Content != "" {
						fmt.Printf("transcript: %s\n", m.Content)
					}
					break wait
				}
				if m.Status == client.StatusError {
					return fmt.Errorf("reply failed mid-stream")
				}
			}
		}

		// Give trailing audio deltas a moment to drain.
		time.Sleep(500 * time.Millisecond)

		responseMu.Lock()
		out := make([]byte, len(responsePCM))
		copy(out, responsePCM)
		responseMu.Unlock()
		if len(out) == 0 {
			fmt.Println("no response audio received")
			return nil
		}
		wav, err := audio.EncodeWAVPCM16LE(out, audio.DefaultSampleRate)
		if err != nil {
			return err
		}
		if err := os.WriteFile(replayOut, wav, 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%.1fs)\n", replayOut,
			audio.DurationMS(len(out), audio.DefaultSampleRate)/1000)
		return nil
	},
}

func init() {
	replayCmd.Flags().IntVar(&replayChunkMS, "chunk-ms", 45, "audio chunk size in milliseconds")
	replayCmd.Flags().Float64Var(&replayRate, "rate", 1.0, "pacing multiplier (1.0=realtime, 2.0=2x)")
	replayCmd.Flags().StringVar(&replayOut, "out", "response.wav", "file for the reply audio")
	replayCmd.Flags().DurationVar(&replayTimeout, "timeout", 2*time.Minute, "how long to wait for the full reply")
}
