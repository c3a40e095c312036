// Package medium carries smart protocol bytes between client protocol state
// machines and servers. A client medium owns a connection and hands out one
// request at a time; a server stream medium reads requests off a connection,
// detects their protocol version, and serves them.
package medium

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/smart/protocol"
)

// Request lifecycle errors.
var (
	// ErrTooManyConcurrentRequests indicates an attempt to begin a request
	// while another request is outstanding on the same medium.
	ErrTooManyConcurrentRequests = errors.New("too many concurrent requests")
	// ErrWritingCompleted indicates a write after FinishWriting.
	ErrWritingCompleted = errors.New("writing already completed")
	// ErrWritingNotComplete indicates a read before FinishWriting.
	ErrWritingNotComplete = errors.New("writing not complete")
)

// ClientMedium is a connection that can carry a sequence of smart protocol
// requests.
type ClientMedium interface {
	// Request begins a new request on the medium. Only one request may be
	// outstanding at a time.
	Request() (protocol.MediumRequest, error)
	// Close closes the underlying connection.
	Close() error
}

// streamClientMedium is a client medium over a byte stream.
type streamClientMedium struct {
	// reader buffers response bytes from the connection.
	reader *bufio.Reader
	// writer carries request bytes to the connection.
	writer io.Writer
	// closer closes the connection. May be nil.
	closer io.Closer
	// current is the outstanding request, if any.
	current *streamClientRequest
}

// NewStreamClientMedium creates a client medium over a read/write/close
// stream.
func NewStreamClientMedium(stream io.ReadWriteCloser) ClientMedium {
	return &streamClientMedium{
		reader: bufio.NewReader(stream),
		writer: stream,
		closer: stream,
	}
}

// NewPipeClientMedium creates a client medium over separate reader and writer
// streams, such as the standard input and output of a subprocess. The closer
// may be nil.
func NewPipeClientMedium(reader io.Reader, writer io.Writer, closer io.Closer) ClientMedium {
	return &streamClientMedium{
		reader: bufio.NewReader(reader),
		writer: writer,
		closer: closer,
	}
}

// ConnectionError indicates a failure to reach the peer, as opposed to an
// application-level failure reported by the peer.
type ConnectionError struct {
	// Address is the address that could not be reached.
	Address string
	// Err is the underlying dial error.
	Err error
}

// Error implements error.Error.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to %s: %v", e.Address, e.Err)
}

// Unwrap supports error chain inspection.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// tcpClientMedium is a client medium that connects lazily on first use.
type tcpClientMedium struct {
	// address is the target address.
	address string
	// stream is the connected medium, nil until the first request.
	stream *streamClientMedium
	// connection is the underlying connection, nil until the first request.
	connection net.Conn
	// closed indicates that the medium has been disconnected.
	closed bool
}

// NewTCPClientMedium creates a client medium targeting a TCP address. The
// connection is established on first use; dial failures surface as
// ConnectionError.
func NewTCPClientMedium(address string) ClientMedium {
	return &tcpClientMedium{address: address}
}

// Request implements ClientMedium.Request, connecting if necessary.
func (m *tcpClientMedium) Request() (protocol.MediumRequest, error) {
	if m.closed {
		return nil, errors.New("medium disconnected")
	}
	if m.stream == nil {
		connection, err := net.Dial("tcp", m.address)
		if err != nil {
			return nil, &ConnectionError{Address: m.address, Err: err}
		}
		m.connection = connection
		m.stream = &streamClientMedium{
			reader: bufio.NewReader(connection),
			writer: connection,
			closer: connection,
		}
	}
	return m.stream.Request()
}

// Close implements ClientMedium.Close. It is idempotent.
func (m *tcpClientMedium) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if m.connection != nil {
		return m.connection.Close()
	}
	return nil
}

// Request implements ClientMedium.Request.
func (m *streamClientMedium) Request() (protocol.MediumRequest, error) {
	if m.current != nil {
		return nil, ErrTooManyConcurrentRequests
	}
	m.current = &streamClientRequest{medium: m}
	return m.current, nil
}

// Close implements ClientMedium.Close.
func (m *streamClientMedium) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

// requestState enumerates the phases of a request.
type requestState uint8

const (
	// requestWriting is the initial phase, accepting request bytes.
	requestWriting requestState = iota
	// requestReading accepts response reads.
	requestReading
	// requestDone is terminal.
	requestDone
)

// streamClientRequest is a single request on a stream client medium.
type streamClientRequest struct {
	// medium is the owning medium.
	medium *streamClientMedium
	// state is the request phase.
	state requestState
}

// Write implements io.Writer, accepting request bytes.
func (r *streamClientRequest) Write(data []byte) (int, error) {
	if r.state != requestWriting {
		return 0, ErrWritingCompleted
	}
	return r.medium.writer.Write(data)
}

// FinishWriting implements MediumRequest.FinishWriting.
func (r *streamClientRequest) FinishWriting() error {
	if r.state != requestWriting {
		return ErrWritingCompleted
	}
	r.state = requestReading
	if flusher, ok := r.medium.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// ReadBytes implements MediumRequest.ReadBytes.
func (r *streamClientRequest) ReadBytes(count int) ([]byte, error) {
	if r.state == requestWriting {
		return nil, ErrWritingNotComplete
	} else if r.state == requestDone {
		return nil, protocol.ErrReadingCompleted
	}
	buffer := make([]byte, count)
	read, err := r.medium.reader.Read(buffer)
	if err != nil {
		return nil, err
	}
	return buffer[:read], nil
}

// ReadLine implements MediumRequest.ReadLine.
func (r *streamClientRequest) ReadLine() ([]byte, error) {
	if r.state == requestWriting {
		return nil, ErrWritingNotComplete
	} else if r.state == requestDone {
		return nil, protocol.ErrReadingCompleted
	}
	return r.medium.reader.ReadBytes('\n')
}

// FinishReading implements MediumRequest.FinishReading, releasing the medium
// for the next request.
func (r *streamClientRequest) FinishReading() error {
	if r.state == requestWriting {
		return ErrWritingNotComplete
	} else if r.state == requestDone {
		return nil
	}
	r.state = requestDone
	r.medium.current = nil
	return nil
}
