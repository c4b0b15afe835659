package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPipePairDeliversFramesInOrder(t *testing.T) {
	a, b := NewPipePair(PipeOptions{Kind: Socket, MaxPayload: 4096})
	(*a).(*Pipe).MarkReady()
	(*b).(*Pipe).MarkReady()

	require.NoError(t, (*a).Send([]byte("one")))
	require.NoError(t, (*a).Send([]byte("two")))

	select {
	case got := <-(*b).Frames():
		require.Equal(t, "one", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first frame")
	}
	select {
	case got := <-(*b).Frames():
		require.Equal(t, "two", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second frame")
	}
}

func TestPipeReadyClosesOnMarkReady(t *testing.T) {
	a, _ := NewPipePair(PipeOptions{Kind: Datachannel})
	select {
	case <-(*a).Ready():
		t.Fatal("ready fired before MarkReady")
	default:
	}
	(*a).(*Pipe).MarkReady()
	select {
	case <-(*a).Ready():
	case <-time.After(time.Second):
		t.Fatal("ready never fired")
	}
}

func TestPipeCloseReasonLocal(t *testing.T) {
	a, _ := NewPipePair(PipeOptions{Kind: Socket})
	require.NoError(t, (*a).Close())
	<-(*a).Done()
	require.Equal(t, CloseLocal, (*a).CloseReason())
}

func TestPipeCloseUnexpectedly(t *testing.T) {
	a, _ := NewPipePair(PipeOptions{Kind: Datachannel})
	(*a).(*Pipe).CloseUnexpectedly()
	<-(*a).Done()
	require.Equal(t, CloseUnexpected, (*a).CloseReason())
}

func TestPipeSendAfterCloseErrors(t *testing.T) {
	a, _ := NewPipePair(PipeOptions{Kind: Socket})
	require.NoError(t, (*a).Close())
	err := (*a).Send([]byte("x"))
	require.Error(t, err)
}

func TestPipeAwaitDrainRespectsThreshold(t *testing.T) {
	// Built directly via newPipe, bypassing NewPipePair, so nothing drains
	// p.out and the backlog genuinely persists for AwaitDrain to observe.
	p := newPipe(PipeOptions{Kind: Socket, MaxPayload: 4096, DrainThreshold: 2})
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Send([]byte("x")))
	}
	require.Eventually(t, func() bool { return p.out.Len() >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.AwaitDrain(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultEnableAckPerKind(t *testing.T) {
	a, _ := NewPipePair(PipeOptions{Kind: Datachannel, EnableAck: true})
	require.True(t, (*a).DefaultEnableAck())

	c, _ := NewPipePair(PipeOptions{Kind: Socket, EnableAck: false})
	require.False(t, (*c).DefaultEnableAck())
}
