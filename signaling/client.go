// Package signaling implements the HTTP client contract the engine
// depends on for connection setup (§4.8, §6): creating/accepting/
// discarding transfer requests, posting SDP/ICE, querying the peer set,
// and consuming a server-sent-events push channel. The signaling service
// itself is out of scope (§1 Out of scope) — this package only speaks
// its documented contract. No third-party SSE or REST client in the
// retrieved pack fits an arbitrary signaling backend's shape, so this
// package is stdlib net/http + encoding/json by deliberate choice (see
// the grounding ledger).
package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gofrs/uuid"
)

// ProtocolTag distinguishes the signaling payload carried by
// PostSignaling (§6: "payload tagged 0=SDP, 1=ICE").
type ProtocolTag int

const (
	TagSDP ProtocolTag = 0
	TagICE ProtocolTag = 1
)

// Transport names the protocol a P2P_EXCHANGE event negotiates.
type Transport string

const (
	TransportDatachannel Transport = "webrtc"
	TransportSocket      Transport = "websocket"
)

// Client talks to the signaling service's REST surface over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client. httpClient may be nil, in which case
// http.DefaultClient is used.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// CreateRequestResult is the response to CreateRequest.
type CreateRequestResult struct {
	RequestID uuid.UUID `json:"request_id"`
}

// CreateRequest asks the signaling service to open a transfer request
// toward targetClientID.
func (c *Client) CreateRequest(ctx context.Context, targetClientID uuid.UUID, supportsDirect bool, peerPIN string, preferred Transport) (*CreateRequestResult, error) {
	body := map[string]any{
		"target_client_id": targetClientID,
		"supports_direct":  supportsDirect,
		"preferred":        preferred,
	}
	if peerPIN != "" {
		body["peer_pin"] = peerPIN
	}
	var out CreateRequestResult
	if err := c.postJSON(ctx, "/requests", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AcceptRequest accepts an inbound transfer request.
func (c *Client) AcceptRequest(ctx context.Context, requestID, clientID uuid.UUID, supportsDirect bool) error {
	body := map[string]any{
		"client_id":       clientID,
		"supports_direct": supportsDirect,
	}
	return c.postJSON(ctx, "/requests/"+requestID.String()+"/accept", body, nil)
}

// DiscardRequest rejects or cancels a transfer request.
func (c *Client) DiscardRequest(ctx context.Context, requestID uuid.UUID) error {
	return c.postJSON(ctx, "/requests/"+requestID.String()+"/discard", nil, nil)
}

// PostSignaling relays one SDP or ICE payload to the peer via the
// signaling service.
func (c *Client) PostSignaling(ctx context.Context, requestID, clientID uuid.UUID, tag ProtocolTag, payload json.RawMessage) error {
	body := map[string]any{
		"client_id": clientID,
		"tag":       tag,
		"payload":   payload,
	}
	return c.postJSON(ctx, "/requests/"+requestID.String()+"/signaling", body, nil)
}

// Peer is one entry in QueryPeers' result.
type Peer struct {
	ID uuid.UUID `json:"id"`
}

// QueryPeers lists the currently connected peer set.
func (c *Client) QueryPeers(ctx context.Context) ([]Peer, error) {
	var out []Peer
	if err := c.getJSON(ctx, "/peers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("signaling: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("signaling: %s %s: unexpected status %s", req.Method, req.URL.Path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
