package transport

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rwBuffer struct {
	bytes.Buffer
}

func TestWriteThenReadRoundTripsRequest(t *testing.T) {
	var buf rwBuffer
	conn := NewConn(&buf)

	sent := Message{
		Id: 42,
		Request: &Request{
			Kind:    KindStartConversation,
			Payload: map[string]interface{}{"challenge": []byte{1, 2, 3}},
		},
	}
	require.NoError(t, conn.WriteMessage(sent))

	got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, sent.Id, got.Id)
	require.True(t, got.IsRequest())
	assert.Equal(t, KindStartConversation, got.Request.Kind)
}

func TestReadMessageReturnsEOFOnCleanClose(t *testing.T) {
	var buf rwBuffer
	conn := NewConn(&buf)
	_, err := conn.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf rwBuffer
	// write a header claiming a frame larger than MaxFrameBytes, no body.
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(header)
	conn := NewConn(&buf)

	_, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestMultipleMessagesInOneStreamPreserveOrder(t *testing.T) {
	var buf rwBuffer
	conn := NewConn(&buf)

	for i := uint32(0); i < 3; i++ {
		require.NoError(t, conn.WriteMessage(Message{Id: i, Response: &Response{Status: StatusOk}}))
	}

	for i := uint32(0); i < 3; i++ {
		got, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, i, got.Id)
		require.True(t, got.IsResponse())
		assert.Equal(t, StatusOk, got.Response.Status)
	}
}
