package dispatch

import (
	"bufio"
	"io"
	"net"

	"github.com/leynos/weaverd/internal/obslog"
)

// Dispatcher routes one parsed request to a domain handler and returns
// the exit status for the connection.
type Dispatcher interface {
	Dispatch(req *CommandRequest, rw *ResponseWriter) int
}

// HandleConn reads exactly one JSONL request line from conn, parses it,
// and either dispatches it or reports the parse failure, always ending
// with one Exit frame.
func HandleConn(conn net.Conn, d Dispatcher) {
	defer conn.Close()

	rw := NewResponseWriter(conn)
	reader := bufio.NewReaderSize(conn, MaxRequestSize+1)

	line, err := readOneLine(reader)
	if err != nil {
		if err != io.EOF {
			obslog.Get(obslog.CategoryDispatch).Warn("read request: %v", err)
		}
		_ = rw.Exit(ExitInfrastructureError)
		return
	}

	req, perr := ParseLine(line)
	if perr != nil {
		status := ExitProtocolError
		if pe, ok := perr.(*ParseError); ok && pe.Kind == ErrRequestTooLarge {
			status = ExitProtocolError
		}
		_ = rw.HandleError(perr, status)
		return
	}

	status := d.Dispatch(req, rw)
	_ = rw.Exit(status)
}

// readOneLine reads one line, enforcing MaxRequestSize incrementally
// against each chunk as it arrives. A bare r.ReadBytes('\n') keeps
// growing its accumulated slice internally until it finds '\n' or
// hits EOF/error, so a client that sends a multi-gigabyte line with
// no newline would be buffered in full before ParseLine's size check
// ever runs. ReadSlice instead returns bufio.ErrBufferFull as soon as
// its fixed-size internal buffer fills without a newline, letting the
// cap be checked after every chunk rather than after the whole line.
func readOneLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxRequestSize {
			return line, nil
		}
		switch err {
		case nil:
			return line, nil
		case bufio.ErrBufferFull:
			continue
		default:
			if len(line) == 0 {
				return nil, err
			}
			return line, nil
		}
	}
}
