// Package frame implements the wire framing used between two peers of a
// transfer session: a single flag byte followed by a payload. There is no
// length prefix — the transport (WebRTC data channel message, or a framed
// WebSocket relay connection) already delimits one frame per read.
package frame

import (
	"encoding/binary"
	"fmt"
)

// Flag identifies the kind of a frame. The client range is 0x01-0xEF; the
// relay/server range 0xF0-0xFF is reserved for the socket transport's proxy
// lifecycle and never reaches the session control loop.
type Flag byte

const (
	Ping      Flag = 0x01
	Pong      Flag = 0x02
	Meta      Flag = 0x03
	Data      Flag = 0x04
	Shakehand Flag = 0x05
	Ack       Flag = 0x06
	PeerClose Flag = 0x07
)

// Relay-only flags. These never reach session.Session's subscription table;
// the wsrelay transport consumes them itself.
const (
	ProxyConnectionReady       Flag = 0xF1
	ProxyConnectionEstablished Flag = 0xF2
	ProxyConnectionClose       Flag = 0xF3
	ProxyWho                   Flag = 0xF4
	ProxyHeartbeat             Flag = 0xFE
	ProxyError                 Flag = 0xFF
)

func (f Flag) String() string {
	switch f {
	case Ping:
		return "PING"
	case Pong:
		return "PONG"
	case Meta:
		return "META"
	case Data:
		return "DATA"
	case Shakehand:
		return "SHAKEHAND"
	case Ack:
		return "ACK"
	case PeerClose:
		return "PEER_CLOSE"
	case ProxyConnectionReady:
		return "PROXY_CONNECTION_READY"
	case ProxyConnectionEstablished:
		return "PROXY_CONNECTION_ESTABLISHED"
	case ProxyConnectionClose:
		return "PROXY_CONNECTION_CLOSE"
	case ProxyWho:
		return "PROXY_WHO"
	case ProxyHeartbeat:
		return "PROXY_HEARTBEAT"
	case ProxyError:
		return "PROXY_ERROR"
	default:
		return fmt.Sprintf("FLAG(0x%02x)", byte(f))
	}
}

// IsRelay reports whether f belongs to the server/relay reserved range and
// must never be handed to the session control loop.
func (f Flag) IsRelay() bool {
	return f >= 0xF0
}

// AckHeaderSize is the fixed 8-byte prefix on DATA and ACK payloads.
const AckHeaderSize = 8

// Frame is a single atomic wire unit: a flag plus its payload. A Frame is
// always produced and consumed whole; partial frames are never exposed to
// callers.
type Frame struct {
	Flag    Flag
	Payload []byte
}

// Encode serializes flag and payload into a byte string suitable for a single transport
// send (one WebRTC data channel message, or one length-delimited WebSocket
// frame on the relay).
func Encode(flag Flag, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(flag)
	copy(buf[1:], payload)
	return buf
}

// ErrFrameTooShort is returned by Decode when a message is empty.
var ErrFrameTooShort = fmt.Errorf("frame: message shorter than the 1-byte flag")

// Decode splits a raw transport message into its flag and payload.
func Decode(b []byte) (Flag, []byte, error) {
	if len(b) < 1 {
		return 0, nil, ErrFrameTooShort
	}
	payload := make([]byte, len(b)-1)
	copy(payload, b[1:])
	return Flag(b[0]), payload, nil
}

// EncodeAckHeader produces the 8-byte file_seq/packet_seq prefix carried by
// DATA and ACK payloads. Both fields are little-endian u32.
func EncodeAckHeader(fileSeq, packetSeq uint32) []byte {
	b := make([]byte, AckHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], fileSeq)
	binary.LittleEndian.PutUint32(b[4:8], packetSeq)
	return b
}

// ErrAckHeaderTooShort is returned by DecodeAckHeader when fewer than 8
// bytes are available.
var ErrAckHeaderTooShort = fmt.Errorf("frame: ack header shorter than %d bytes", AckHeaderSize)

// DecodeAckHeader reads the file_seq/packet_seq prefix from the start of b.
func DecodeAckHeader(b []byte) (fileSeq, packetSeq uint32, err error) {
	if len(b) < AckHeaderSize {
		return 0, 0, ErrAckHeaderTooShort
	}
	fileSeq = binary.LittleEndian.Uint32(b[0:4])
	packetSeq = binary.LittleEndian.Uint32(b[4:8])
	return fileSeq, packetSeq, nil
}

// SplitAckHeader strips and decodes the AckHeader from a DATA/ACK payload,
// returning the remaining body bytes (empty for ACK).
func SplitAckHeader(payload []byte) (fileSeq, packetSeq uint32, body []byte, err error) {
	fileSeq, packetSeq, err = DecodeAckHeader(payload)
	if err != nil {
		return 0, 0, nil, err
	}
	return fileSeq, packetSeq, payload[AckHeaderSize:], nil
}
