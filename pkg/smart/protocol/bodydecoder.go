package protocol

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

// bodyTrailer terminates length-prefixed bodies.
const bodyTrailer = "done\n"

// chunkedBodyHeader introduces chunked bodies.
const chunkedBodyHeader = "chunked\n"

// chunkedBodyTerminator terminates a successful chunked body.
const chunkedBodyTerminator = "END\n"

// chunkedBodyError introduces trailing error arguments in a chunked body.
const chunkedBodyError = "ERR\n"

// LengthPrefixedBodyDecoder decodes a body of the form
// "<decimal length>\n<content>done\n", preserving any excess bytes that
// follow the trailer.
type LengthPrefixedBodyDecoder struct {
	// buffer holds unconsumed input.
	buffer []byte
	// state tracks decoding progress.
	state lengthBodyState
	// remaining counts content bytes still expected.
	remaining int
	// trailerRemaining counts trailer bytes still expected.
	trailerRemaining int
	// pending holds decoded content not yet handed to the caller.
	pending []byte
	// unused holds bytes received beyond the trailer.
	unused []byte
}

// lengthBodyState enumerates LengthPrefixedBodyDecoder states.
type lengthBodyState uint8

const (
	// lengthBodyExpectLength awaits the decimal length line.
	lengthBodyExpectLength lengthBodyState = iota
	// lengthBodyReadingContent awaits content bytes.
	lengthBodyReadingContent
	// lengthBodyReadingTrailer awaits trailer bytes.
	lengthBodyReadingTrailer
	// lengthBodyFinished is terminal.
	lengthBodyFinished
)

// NewLengthPrefixedBodyDecoder creates a decoder awaiting a length line.
func NewLengthPrefixedBodyDecoder() *LengthPrefixedBodyDecoder {
	return &LengthPrefixedBodyDecoder{trailerRemaining: len(bodyTrailer)}
}

// Finished reports whether the body has been fully decoded.
func (d *LengthPrefixedBodyDecoder) Finished() bool {
	return d.state == lengthBodyFinished
}

// NextReadSize suggests how many bytes the caller should read next.
func (d *LengthPrefixedBodyDecoder) NextReadSize() int {
	switch d.state {
	case lengthBodyExpectLength:
		// A one-digit length line plus the trailer.
		return 1 + len(bodyTrailer)
	case lengthBodyReadingContent:
		return d.remaining + d.trailerRemaining
	case lengthBodyReadingTrailer:
		return d.trailerRemaining
	default:
		return 0
	}
}

// Accept feeds bytes to the decoder.
func (d *LengthPrefixedBodyDecoder) Accept(data []byte) error {
	d.buffer = append(d.buffer, data...)
	for {
		switch d.state {
		case lengthBodyExpectLength:
			newline := bytes.IndexByte(d.buffer, '\n')
			if newline < 0 {
				return nil
			}
			length, err := strconv.Atoi(string(d.buffer[:newline]))
			if err != nil || length < 0 {
				return errors.Errorf("malformed body length %q", d.buffer[:newline])
			}
			d.remaining = length
			d.buffer = d.buffer[newline+1:]
			d.state = lengthBodyReadingContent
		case lengthBodyReadingContent:
			if len(d.buffer) == 0 {
				return nil
			}
			take := d.remaining
			if len(d.buffer) < take {
				take = len(d.buffer)
			}
			d.pending = append(d.pending, d.buffer[:take]...)
			d.buffer = d.buffer[take:]
			d.remaining -= take
			if d.remaining == 0 {
				d.state = lengthBodyReadingTrailer
			}
		case lengthBodyReadingTrailer:
			if len(d.buffer) == 0 {
				return nil
			}
			take := d.trailerRemaining
			if len(d.buffer) < take {
				take = len(d.buffer)
			}
			expected := bodyTrailer[len(bodyTrailer)-d.trailerRemaining:][:take]
			if string(d.buffer[:take]) != expected {
				return errors.New("malformed body trailer")
			}
			d.buffer = d.buffer[take:]
			d.trailerRemaining -= take
			if d.trailerRemaining == 0 {
				d.state = lengthBodyFinished
			}
		case lengthBodyFinished:
			d.unused = append(d.unused, d.buffer...)
			d.buffer = nil
			return nil
		}
	}
}

// ReadPending returns decoded content accumulated since the last call.
func (d *LengthPrefixedBodyDecoder) ReadPending() []byte {
	pending := d.pending
	d.pending = nil
	return pending
}

// Unused returns bytes received beyond the body.
func (d *LengthPrefixedBodyDecoder) Unused() []byte {
	return d.unused
}

// ChunkedBodyDecoder decodes a body of the form "chunked\n" followed by
// chunks, each a hexadecimal length line and that many bytes, terminated by
// "END\n". A terminating "ERR\n" instead switches the remaining chunks to
// error arguments.
type ChunkedBodyDecoder struct {
	// buffer holds unconsumed input.
	buffer []byte
	// state tracks decoding progress.
	state chunkedBodyState
	// remaining counts bytes still expected in the current chunk.
	remaining int
	// current accumulates the current chunk.
	current []byte
	// chunks holds decoded chunks not yet handed to the caller.
	chunks [][]byte
	// errored indicates that an ERR marker was seen; subsequent chunks are
	// error arguments.
	errored bool
	// errorArgs holds chunks decoded after the ERR marker.
	errorArgs [][]byte
	// unused holds bytes received beyond the body.
	unused []byte
}

// chunkedBodyState enumerates ChunkedBodyDecoder states.
type chunkedBodyState uint8

const (
	// chunkedBodyExpectHeader awaits the "chunked\n" header.
	chunkedBodyExpectHeader chunkedBodyState = iota
	// chunkedBodyExpectLength awaits a chunk length line or terminator.
	chunkedBodyExpectLength
	// chunkedBodyReadingChunk awaits chunk bytes.
	chunkedBodyReadingChunk
	// chunkedBodyFinished is terminal.
	chunkedBodyFinished
)

// NewChunkedBodyDecoder creates a decoder awaiting the chunked header.
func NewChunkedBodyDecoder() *ChunkedBodyDecoder {
	return &ChunkedBodyDecoder{}
}

// Finished reports whether the body has been fully decoded.
func (d *ChunkedBodyDecoder) Finished() bool {
	return d.state == chunkedBodyFinished
}

// Error reports whether the body terminated with an error marker.
func (d *ChunkedBodyDecoder) Error() bool {
	return d.errored
}

// ErrorArgs returns the error argument chunks following an ERR marker.
func (d *ChunkedBodyDecoder) ErrorArgs() []string {
	args := make([]string, len(d.errorArgs))
	for a, chunk := range d.errorArgs {
		args[a] = string(chunk)
	}
	return args
}

// NextReadSize suggests how many bytes the caller should read next.
func (d *ChunkedBodyDecoder) NextReadSize() int {
	switch d.state {
	case chunkedBodyExpectHeader:
		return len(chunkedBodyHeader) - len(d.buffer)
	case chunkedBodyExpectLength:
		return len(chunkedBodyTerminator)
	case chunkedBodyReadingChunk:
		// The remaining chunk bytes plus the shortest possible terminator.
		return d.remaining + len(chunkedBodyTerminator)
	default:
		return 0
	}
}

// Accept feeds bytes to the decoder.
func (d *ChunkedBodyDecoder) Accept(data []byte) error {
	d.buffer = append(d.buffer, data...)
	for {
		switch d.state {
		case chunkedBodyExpectHeader:
			if len(d.buffer) < len(chunkedBodyHeader) {
				return nil
			}
			if string(d.buffer[:len(chunkedBodyHeader)]) != chunkedBodyHeader {
				return errors.New("malformed chunked body header")
			}
			d.buffer = d.buffer[len(chunkedBodyHeader):]
			d.state = chunkedBodyExpectLength
		case chunkedBodyExpectLength:
			newline := bytes.IndexByte(d.buffer, '\n')
			if newline < 0 {
				return nil
			}
			line := string(d.buffer[:newline+1])
			d.buffer = d.buffer[newline+1:]
			if line == chunkedBodyTerminator {
				d.state = chunkedBodyFinished
				continue
			}
			if line == chunkedBodyError {
				d.errored = true
				continue
			}
			length, err := strconv.ParseInt(line[:len(line)-1], 16, 32)
			if err != nil || length < 0 {
				return errors.Errorf("malformed chunk length %q", line)
			}
			d.remaining = int(length)
			d.current = nil
			d.state = chunkedBodyReadingChunk
		case chunkedBodyReadingChunk:
			if d.remaining > 0 && len(d.buffer) == 0 {
				return nil
			}
			take := d.remaining
			if len(d.buffer) < take {
				take = len(d.buffer)
			}
			d.current = append(d.current, d.buffer[:take]...)
			d.buffer = d.buffer[take:]
			d.remaining -= take
			if d.remaining == 0 {
				if d.errored {
					d.errorArgs = append(d.errorArgs, d.current)
				} else {
					d.chunks = append(d.chunks, d.current)
				}
				d.current = nil
				d.state = chunkedBodyExpectLength
			}
		case chunkedBodyFinished:
			d.unused = append(d.unused, d.buffer...)
			d.buffer = nil
			return nil
		}
	}
}

// NextChunk returns the next decoded chunk, or false if none is pending.
func (d *ChunkedBodyDecoder) NextChunk() ([]byte, bool) {
	if len(d.chunks) == 0 {
		return nil, false
	}
	chunk := d.chunks[0]
	d.chunks = d.chunks[1:]
	return chunk, true
}

// Unused returns bytes received beyond the body.
func (d *ChunkedBodyDecoder) Unused() []byte {
	return d.unused
}

// encodeLengthPrefixedBody encodes a body with its decimal length line and
// trailer.
func encodeLengthPrefixedBody(body []byte) []byte {
	encoded := []byte(strconv.Itoa(len(body)))
	encoded = append(encoded, '\n')
	encoded = append(encoded, body...)
	return append(encoded, bodyTrailer...)
}

// encodeChunk encodes a single chunk with its hexadecimal length line.
func encodeChunk(chunk []byte) []byte {
	encoded := []byte(strconv.FormatInt(int64(len(chunk)), 16))
	encoded = append(encoded, '\n')
	return append(encoded, chunk...)
}

// encodeChunkedBody encodes a complete chunked body, preserving chunk
// boundaries including zero-length chunks.
func encodeChunkedBody(chunks [][]byte) []byte {
	encoded := []byte(chunkedBodyHeader)
	for _, chunk := range chunks {
		encoded = append(encoded, encodeChunk(chunk)...)
	}
	return append(encoded, chunkedBodyTerminator...)
}
