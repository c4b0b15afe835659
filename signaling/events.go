package signaling

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"
)

// EventKind names a push-subscription event (§6).
type EventKind string

const (
	UserConnected    EventKind = "USER_CONNECTED"
	UserDisconnected EventKind = "USER_DISCONNECTED"
	P2PRequest       EventKind = "P2P_REQUEST"
	P2PExchange      EventKind = "P2P_EXCHANGE"
	P2PSignaling     EventKind = "P2P_SIGNALING"
	P2PReject        EventKind = "P2P_REJECT"
)

// Event is one push-subscription message, decoded from its SSE `data:`
// JSON payload. Only the field(s) relevant to Kind are populated.
type Event struct {
	Kind EventKind

	UserID uuid.UUID // USER_CONNECTED, USER_DISCONNECTED

	RequestID uuid.UUID // P2P_REQUEST, P2P_EXCHANGE, P2P_REJECT

	Protocol     Transport // P2P_EXCHANGE
	Participants []uuid.UUID

	SignalingTag     ProtocolTag     // P2P_SIGNALING
	SignalingPayload json.RawMessage // P2P_SIGNALING
}

type wireEvent struct {
	Kind         EventKind       `json:"kind"`
	UserID       uuid.UUID       `json:"user_id"`
	RequestID    uuid.UUID       `json:"request_id"`
	Protocol     Transport       `json:"protocol"`
	Participants []uuid.UUID     `json:"participants"`
	Tag          ProtocolTag     `json:"tag"`
	Payload      json.RawMessage `json:"payload"`
}

// Subscribe opens the signaling service's push subscription (a
// server-sent-events stream) and returns a channel of decoded Events.
// The channel closes when ctx is canceled or the stream ends; callers
// should range over it rather than reading once.
func (c *Client) Subscribe(ctx context.Context, logger *log.Logger) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signaling: subscribe: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("signaling: subscribe: unexpected status %s", resp.Status)
	}

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			raw := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if raw == "" {
				continue
			}
			var we wireEvent
			if err := json.Unmarshal([]byte(raw), &we); err != nil {
				if logger != nil {
					logger.Warn("signaling: malformed push event", "error", err)
				}
				continue
			}
			ev := Event{
				Kind:             we.Kind,
				UserID:           we.UserID,
				RequestID:        we.RequestID,
				Protocol:         we.Protocol,
				Participants:     we.Participants,
				SignalingTag:     we.Tag,
				SignalingPayload: we.Payload,
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
