package payload

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStream_writeThenReadPreservesOrder(t *testing.T) {
	s := NewStream(2)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, Event{ProcessingUpdate: &ProcessingUpdate{Message: "first"}}))
	require.NoError(t, s.Write(ctx, Event{ProcessingUpdate: &ProcessingUpdate{Message: "second"}}))

	e1, err := s.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", e1.ProcessingUpdate.Message)

	e2, err := s.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", e2.ProcessingUpdate.Message)
}

func TestStream_closeThenReadReturnsEOF(t *testing.T) {
	s := NewStream(1)
	require.NoError(t, s.Close())

	_, err := s.Read(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestStream_writeAfterCloseErrors(t *testing.T) {
	s := NewStream(1)
	require.NoError(t, s.Close())

	err := s.Write(context.Background(), Event{})
	require.ErrorIs(t, err, ErrStreamClosed)
}

func TestStream_doubleCloseErrors(t *testing.T) {
	s := NewStream(0)
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Close(), ErrStreamClosed)
}

func TestStream_writeRespectsContextCancellation(t *testing.T) {
	s := NewStream(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Write(ctx, Event{})
	require.ErrorIs(t, err, context.Canceled)
}
