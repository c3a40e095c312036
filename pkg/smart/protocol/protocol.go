// Package protocol implements the three wire encodings of the smart
// protocol: the bare tuple protocol (version one), the marker-prefixed
// protocol with explicit status and chunked bodies (version two), and the
// message-oriented protocol with bencoded headers and structured parts
// (version three). Server state machines consume bytes and answer through a
// write callback; client state machines drive a medium request.
package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Protocol markers. Version one has none; its requests begin directly with a
// tuple line.
const (
	// RequestVersionTwo prefixes version two requests.
	RequestVersionTwo = "bzr request 2\n"
	// ResponseVersionTwo prefixes version two responses.
	ResponseVersionTwo = "bzr response 2\n"
	// MessageVersionThree prefixes version three messages in both directions.
	MessageVersionThree = "bzr message 3 (bzr 1.3)\n"
)

// ErrorFromSmartServer indicates that the server answered a request with a
// failure tuple.
type ErrorFromSmartServer struct {
	// Args is the failure tuple.
	Args []string
}

// Error implements error.Error.
func (e *ErrorFromSmartServer) Error() string {
	return fmt.Sprintf("error from smart server: %s", strings.Join(e.Args, " "))
}

// ErrReadingCompleted indicates an attempt to read response data after
// reading finished.
var ErrReadingCompleted = errors.New("reading already completed")

// MediumRequest is the single-request view of a client medium that client
// protocol state machines drive: write the request, then read the response.
type MediumRequest interface {
	io.Writer
	// FinishWriting marks the request as fully written and transitions the
	// request to its reading phase.
	FinishWriting() error
	// ReadBytes reads up to count response bytes, returning at least one byte
	// unless the response is exhausted.
	ReadBytes(count int) ([]byte, error)
	// ReadLine reads response bytes up to and including a newline.
	ReadLine() ([]byte, error)
	// FinishReading marks the response as fully read, releasing the medium
	// for the next request.
	FinishReading() error
}

// encodeTuple encodes an argument tuple as a single line.
func encodeTuple(args []string) []byte {
	return append([]byte(strings.Join(args, "\x01")), '\n')
}

// decodeTuple decodes a tuple line, with or without its trailing newline.
func decodeTuple(line []byte) []string {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return strings.Split(string(line), "\x01")
}

// DetectRequestVersion examines buffered request bytes and determines which
// protocol version the client is speaking. It returns the version (1, 2, or
// 3) and the number of marker bytes consumed. Empty input selects version
// one. When the buffered bytes are a non-empty ambiguous prefix of a marker,
// it reports not-ready.
func DetectRequestVersion(data []byte) (version int, consumed int, ready bool) {
	if len(data) == 0 {
		return 1, 0, true
	}
	markers := []struct {
		marker  string
		version int
	}{
		{MessageVersionThree, 3},
		{RequestVersionTwo, 2},
	}
	for _, candidate := range markers {
		if bytes.HasPrefix(data, []byte(candidate.marker)) {
			return candidate.version, len(candidate.marker), true
		}
	}
	for _, candidate := range markers {
		if len(data) < len(candidate.marker) && bytes.HasPrefix([]byte(candidate.marker), data) {
			return 0, 0, false
		}
	}
	return 1, 0, true
}
