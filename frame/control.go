package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/gofrs/uuid"
)

// pingMagic/pongMagic are the 4-byte tags that open a PING/PONG payload.
var (
	pingMagic = [4]byte{'p', 'i', 'n', 'g'}
	pongMagic = [4]byte{'p', 'o', 'n', 'g'}
)

// PingPongSize is the fixed length of a PING or PONG payload: 4-byte magic,
// u16 sequence, u64 timestamp.
const PingPongSize = 4 + 2 + 8

// EncodePing builds a PING payload: "ping" || seq:u16_LE || ts_ms:u64_LE.
func EncodePing(seq uint16, tsMs uint64) []byte {
	return encodePingPong(pingMagic, seq, tsMs)
}

// EncodePong mirrors EncodePing with the "pong" magic.
func EncodePong(seq uint16, tsMs uint64) []byte {
	return encodePingPong(pongMagic, seq, tsMs)
}

func encodePingPong(magic [4]byte, seq uint16, tsMs uint64) []byte {
	b := make([]byte, PingPongSize)
	copy(b[0:4], magic[:])
	binary.LittleEndian.PutUint16(b[4:6], seq)
	binary.LittleEndian.PutUint64(b[6:14], tsMs)
	return b
}

// DecodePingPong parses a PING or PONG payload, verifying the 4-byte magic
// matches wantPong. Frames with a mismatched byte-length are rejected: the
// caller should simply ignore them, per §4.4.
func DecodePingPong(b []byte, wantPong bool) (seq uint16, tsMs uint64, err error) {
	if len(b) != PingPongSize {
		return 0, 0, fmt.Errorf("frame: ping/pong payload is %d bytes, want %d", len(b), PingPongSize)
	}
	want := pingMagic
	if wantPong {
		want = pongMagic
	}
	for i := 0; i < 4; i++ {
		if b[i] != want[i] {
			return 0, 0, fmt.Errorf("frame: ping/pong magic mismatch")
		}
	}
	seq = binary.LittleEndian.Uint16(b[4:6])
	tsMs = binary.LittleEndian.Uint64(b[6:14])
	return seq, tsMs, nil
}

// ShakehandSize is uuid16(request_id) || u64_LE(now_ms).
const ShakehandSize = 16 + 8

// EncodeShakehand builds a SHAKEHAND payload.
func EncodeShakehand(requestID uuid.UUID, nowMs uint64) []byte {
	b := make([]byte, ShakehandSize)
	copy(b[0:16], requestID.Bytes())
	binary.LittleEndian.PutUint64(b[16:24], nowMs)
	return b
}

// DecodeShakehand parses a SHAKEHAND payload.
func DecodeShakehand(b []byte) (requestID uuid.UUID, nowMs uint64, err error) {
	if len(b) != ShakehandSize {
		return uuid.UUID{}, 0, fmt.Errorf("frame: shakehand payload is %d bytes, want %d", len(b), ShakehandSize)
	}
	id, err := uuid.FromBytes(b[0:16])
	if err != nil {
		return uuid.UUID{}, 0, err
	}
	nowMs = binary.LittleEndian.Uint64(b[16:24])
	return id, nowMs, nil
}

// ProxyWhoSize is uuid16(request_id) || uuid16(local_id).
const ProxyWhoSize = 16 + 16

// EncodeProxyWho builds the PROXY_WHO payload the socket transport sends
// immediately after opening its connection to the relay.
func EncodeProxyWho(requestID, localID uuid.UUID) []byte {
	b := make([]byte, ProxyWhoSize)
	copy(b[0:16], requestID.Bytes())
	copy(b[16:32], localID.Bytes())
	return b
}

// DecodeProxyWho parses a PROXY_WHO payload.
func DecodeProxyWho(b []byte) (requestID, localID uuid.UUID, err error) {
	if len(b) != ProxyWhoSize {
		return uuid.UUID{}, uuid.UUID{}, fmt.Errorf("frame: proxy_who payload is %d bytes, want %d", len(b), ProxyWhoSize)
	}
	requestID, err = uuid.FromBytes(b[0:16])
	if err != nil {
		return uuid.UUID{}, uuid.UUID{}, err
	}
	localID, err = uuid.FromBytes(b[16:32])
	if err != nil {
		return uuid.UUID{}, uuid.UUID{}, err
	}
	return requestID, localID, nil
}
