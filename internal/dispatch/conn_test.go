package dispatch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	status int
	emit   string
}

func (f fakeDispatcher) Dispatch(req *CommandRequest, rw *ResponseWriter) int {
	if f.emit != "" {
		_ = rw.Stream(StreamStdout, f.emit)
	}
	return f.status
}

func TestHandleConnSuccess(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	go HandleConn(server, fakeDispatcher{status: 0, emit: "ok"})

	_, err := client.Write([]byte(`{"command":{"domain":"observe","operation":"status"}}` + "\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(client)

	var streamFrame Frame
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(line, &streamFrame))
	require.Equal(t, "stream", streamFrame.Kind)
	require.Equal(t, "ok", streamFrame.Data)

	var exitFrame Frame
	line, err = reader.ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(line, &exitFrame))
	require.Equal(t, "exit", exitFrame.Kind)
	require.Equal(t, 0, exitFrame.Status)
}

func TestHandleConnMalformedRequest(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	go HandleConn(server, fakeDispatcher{status: 0})

	_, err := client.Write([]byte("not json\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(client)

	var stderrFrame Frame
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(line, &stderrFrame))
	require.Equal(t, StreamStderr, stderrFrame.Stream)

	var exitFrame Frame
	line, err = reader.ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(line, &exitFrame))
	require.Equal(t, ExitProtocolError, exitFrame.Status)
}

// TestReadOneLineBoundsOversizedLineWithoutNewline pins the incremental
// cap check: a line with no terminating '\n' that is several times
// MaxRequestSize must stop well short of being read in full, not be
// buffered to completion before the size is ever checked.
func TestReadOneLineBoundsOversizedLineWithoutNewline(t *testing.T) {
	oversized := bytes.Repeat([]byte("a"), MaxRequestSize*4)
	r := bufio.NewReaderSize(bytes.NewReader(oversized), MaxRequestSize+1)

	line, err := readOneLine(r)
	require.NoError(t, err)
	require.Greater(t, len(line), MaxRequestSize)
	require.Less(t, len(line), len(oversized))
}

func TestReadOneLineStopsAtCapAcrossMultipleChunks(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	go HandleConn(server, fakeDispatcher{status: 0})

	done := make(chan struct{})
	go func() {
		defer close(done)
		chunk := bytes.Repeat([]byte("a"), 32*1024)
		for i := 0; i < 8; i++ {
			if _, err := client.Write(chunk); err != nil {
				return
			}
		}
	}()

	reader := bufio.NewReader(client)
	var stderrFrame Frame
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(line, &stderrFrame))
	require.Equal(t, StreamStderr, stderrFrame.Stream)

	var exitFrame Frame
	line, err = reader.ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(line, &exitFrame))
	require.Equal(t, ExitProtocolError, exitFrame.Status)

	<-done
}
