package gateway

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/arlomercer/sanctum/internal/protocol"
	"github.com/arlomercer/sanctum/internal/realtime"
)

// dispatch routes one parsed inbound frame. Every frame refreshes the
// session's activity clock before anything else; errors are reported on
// the outbound queue and never close the connection.
func (s *Server) dispatch(sessionID string, up Upstream, frame protocol.Frame, outbound chan<- protocol.Frame) {
	if err := s.sessions.Touch(sessionID); err != nil {
		log.Printf("gateway: touch session %s: %v", sessionID, err)
	}

	switch frame.Type {
	case protocol.TypePing:
		s.queueFrame(outbound, protocol.PongFrame(sessionID, time.Now().UnixMilli()))

	case protocol.TypeOpenAIEvent:
		if len(frame.Payload) == 0 {
			s.queueFrame(outbound, protocol.ErrorFrame("Missing payload", nil))
			return
		}
		if err := up.ForwardRaw(frame.Payload); err != nil {
			s.queueFrame(outbound, protocol.ErrorFrame("Failed to forward event", nil))
		}

	case protocol.TypeTextMessage:
		var p protocol.TextMessagePayload
		if err := frame.DecodePayload(&p); err != nil || strings.TrimSpace(p.Text) == "" {
			s.queueFrame(outbound, protocol.ErrorFrame("Missing text", nil))
			return
		}
		if err := up.SendTextMessage(p.Text); err != nil {
			s.queueFrame(outbound, protocol.ErrorFrame("Failed to send message", nil))
		}

	case protocol.TypeAudioData:
		var p protocol.AudioDataPayload
		if err := frame.DecodePayload(&p); err != nil {
			s.queueFrame(outbound, protocol.ErrorFrame("Missing audio", nil))
			return
		}
		if err := up.SendAudioData(p.Audio); err != nil {
			if errors.Is(err, realtime.ErrEmptyAudio) {
				s.queueFrame(outbound, protocol.ErrorFrame("Empty audio chunk", nil))
				return
			}
			s.queueFrame(outbound, protocol.ErrorFrame("Failed to append audio", nil))
		}

	case protocol.TypeAudioCommit:
		if err := up.CommitAudioBuffer(); err != nil {
			s.queueFrame(outbound, protocol.ErrorFrame("Failed to commit audio", nil))
		}

	case protocol.TypeAudioClear:
		if err := up.ClearAudioBuffer(); err != nil {
			s.queueFrame(outbound, protocol.ErrorFrame("Failed to clear audio", nil))
		}

	default:
		s.queueFrame(outbound, protocol.ErrorFrame(fmt.Sprintf("Unknown message type: %s", frame.Type), nil))
	}
}
