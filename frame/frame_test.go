package frame

import (
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("hello world")
	raw := Encode(Data, payload)
	require.Equal(t, byte(Data), raw[0])

	fl, got, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, Data, fl)
	require.Equal(t, payload, got)
}

func TestDecodeEmptyIsError(t *testing.T) {
	_, _, err := Decode(nil)
	require.ErrorIs(t, err, ErrFrameTooShort)
}

func TestDecodeEmptyPayload(t *testing.T) {
	raw := Encode(PeerClose, nil)
	fl, payload, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, PeerClose, fl)
	require.Empty(t, payload)
}

// TestAckHeaderRoundTrip is invariant 4 (§8): AckHeader round-trips for
// all u32 values.
func TestAckHeaderRoundTrip(t *testing.T) {
	cases := []struct{ fileSeq, packetSeq uint32 }{
		{0, 0},
		{1, 1},
		{0xFFFFFFFF, 0xFFFFFFFF},
		{123456, 7},
		{7, 123456},
	}
	for _, c := range cases {
		b := EncodeAckHeader(c.fileSeq, c.packetSeq)
		require.Len(t, b, AckHeaderSize)
		fileSeq, packetSeq, err := DecodeAckHeader(b)
		require.NoError(t, err)
		require.Equal(t, c.fileSeq, fileSeq)
		require.Equal(t, c.packetSeq, packetSeq)
	}
}

func TestDecodeAckHeaderTooShort(t *testing.T) {
	_, _, err := DecodeAckHeader([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrAckHeaderTooShort)
}

func TestSplitAckHeader(t *testing.T) {
	body := []byte("chunk-body")
	payload := append(EncodeAckHeader(9, 2), body...)
	fileSeq, packetSeq, gotBody, err := SplitAckHeader(payload)
	require.NoError(t, err)
	require.Equal(t, uint32(9), fileSeq)
	require.Equal(t, uint32(2), packetSeq)
	require.Equal(t, body, gotBody)
}

func TestIsRelay(t *testing.T) {
	require.False(t, Data.IsRelay())
	require.False(t, PeerClose.IsRelay())
	require.True(t, ProxyWho.IsRelay())
	require.True(t, ProxyHeartbeat.IsRelay())
}

func TestPingPongRoundTrip(t *testing.T) {
	ping := EncodePing(42, 1_700_000_000_000)
	seq, ts, err := DecodePingPong(ping, false)
	require.NoError(t, err)
	require.Equal(t, uint16(42), seq)
	require.Equal(t, uint64(1_700_000_000_000), ts)

	_, _, err = DecodePingPong(ping, true)
	require.Error(t, err)

	pong := EncodePong(42, 1_700_000_000_000)
	seq, ts, err = DecodePingPong(pong, true)
	require.NoError(t, err)
	require.Equal(t, uint16(42), seq)
	require.Equal(t, uint64(1_700_000_000_000), ts)
}

func TestShakehandRoundTrip(t *testing.T) {
	id, err := uuid.NewV4()
	require.NoError(t, err)

	raw := EncodeShakehand(id, 12345)
	gotID, gotTS, err := DecodeShakehand(raw)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
	require.Equal(t, uint64(12345), gotTS)
}

func TestProxyWhoRoundTrip(t *testing.T) {
	requestID, err := uuid.NewV4()
	require.NoError(t, err)
	localID, err := uuid.NewV4()
	require.NoError(t, err)

	raw := EncodeProxyWho(requestID, localID)
	gotRequestID, gotLocalID, err := DecodeProxyWho(raw)
	require.NoError(t, err)
	require.Equal(t, requestID, gotRequestID)
	require.Equal(t, localID, gotLocalID)
}
