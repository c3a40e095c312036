package protocol

import (
	"bytes"
	"io"

	"github.com/mrod0101/bazaar/pkg/logging"
	"github.com/mrod0101/bazaar/pkg/smart/request"
)

// ServerProtocol is the byte-fed server side of one request/response
// exchange. The owning medium feeds it raw bytes and it answers through its
// write callback.
type ServerProtocol interface {
	// AcceptBytes feeds request bytes to the state machine.
	AcceptBytes(data []byte) error
	// NextReadSize suggests how many bytes the medium should read next, or
	// zero once the request is complete.
	NextReadSize() int
	// UnusedData returns bytes received beyond the request, which belong to
	// the next request on the connection.
	UnusedData() []byte
}

// serverProtocolTuple is the request-side state machine shared by protocol
// versions one and two: a tuple line, optionally followed by a
// length-prefixed body. The two versions differ only in response encoding,
// which the respond callback provides.
type serverProtocolTuple struct {
	// registry dispatches commands.
	registry *request.Registry
	// respond encodes and writes a response.
	respond func(*request.Response) error
	// logger receives diagnostics. May be nil.
	logger *logging.Logger
	// inBuffer holds unconsumed request bytes.
	inBuffer []byte
	// haveTuple indicates that the request tuple has been received.
	haveTuple bool
	// finished indicates that the request has been fully handled.
	finished bool
	// command and args hold the parsed request while a body is pending.
	command string
	args    []string
	// bodyDecoder decodes the request body when one is expected.
	bodyDecoder *LengthPrefixedBodyDecoder
	// body accumulates decoded request body bytes.
	body []byte
	// excess holds bytes received beyond the request.
	excess []byte
}

// AcceptBytes implements ServerProtocol.AcceptBytes.
func (p *serverProtocolTuple) AcceptBytes(data []byte) error {
	if p.finished {
		p.excess = append(p.excess, data...)
		return nil
	}
	p.inBuffer = append(p.inBuffer, data...)

	if !p.haveTuple {
		newline := bytes.IndexByte(p.inBuffer, '\n')
		if newline < 0 {
			return nil
		}
		tuple := decodeTuple(p.inBuffer[:newline+1])
		p.inBuffer = p.inBuffer[newline+1:]
		p.haveTuple = true
		p.command = tuple[0]
		p.args = tuple[1:]
		p.logger.Debugf("request: %s", p.command)
		if p.registry.ExpectsBody(p.command) {
			p.bodyDecoder = NewLengthPrefixedBodyDecoder()
		} else {
			if err := p.dispatch(nil); err != nil {
				return err
			}
			p.excess = append(p.excess, p.inBuffer...)
			p.inBuffer = nil
			return nil
		}
	}

	if p.bodyDecoder != nil && !p.finished {
		if err := p.bodyDecoder.Accept(p.inBuffer); err != nil {
			p.inBuffer = nil
			p.finished = true
			return p.respond(request.FailedResponse(
				"error", "Generic bzr smart protocol error: "+err.Error(),
			))
		}
		p.inBuffer = nil
		p.body = append(p.body, p.bodyDecoder.ReadPending()...)
		if p.bodyDecoder.Finished() {
			if err := p.dispatch(p.body); err != nil {
				return err
			}
			p.excess = append(p.excess, p.bodyDecoder.Unused()...)
		}
	}
	return nil
}

// dispatch executes the buffered request and sends its response.
func (p *serverProtocolTuple) dispatch(body []byte) error {
	response := p.registry.Dispatch(p.command, p.args, body)
	p.finished = true
	return p.respond(response)
}

// NextReadSize implements ServerProtocol.NextReadSize.
func (p *serverProtocolTuple) NextReadSize() int {
	if p.finished {
		return 0
	}
	if p.bodyDecoder != nil {
		return p.bodyDecoder.NextReadSize()
	}
	return 1
}

// UnusedData implements ServerProtocol.UnusedData.
func (p *serverProtocolTuple) UnusedData() []byte {
	return p.excess
}

// ServerProtocolOne serves a single version one request, answering with a
// tuple line and an optional length-prefixed body.
type ServerProtocolOne struct {
	serverProtocolTuple
	// write emits response bytes.
	write func([]byte) error
}

// NewServerProtocolOne creates a version one server protocol.
func NewServerProtocolOne(registry *request.Registry, write func([]byte) error, logger *logging.Logger) *ServerProtocolOne {
	p := &ServerProtocolOne{write: write}
	p.registry = registry
	p.logger = logger
	p.respond = p.sendResponse
	return p
}

// sendResponse encodes a response in version one form.
func (p *ServerProtocolOne) sendResponse(response *request.Response) error {
	if err := p.write(encodeTuple(response.Args)); err != nil {
		return err
	}
	if response.Body != nil {
		return p.write(encodeLengthPrefixedBody(response.Body))
	}
	if response.BodyStream != nil {
		// Version one has no streaming form, so the stream is drained and
		// sent as a single length-prefixed body.
		streamed, err := io.ReadAll(response.BodyStream)
		if err != nil {
			return err
		}
		return p.write(encodeLengthPrefixedBody(streamed))
	}
	if response.BodyChunks != nil {
		// Version one has no chunk boundaries either.
		return p.write(encodeLengthPrefixedBody(bytes.Join(response.BodyChunks, nil)))
	}
	return nil
}

// ServerProtocolTwo serves a single version two request. Requests look like
// version one requests once the version marker has been consumed during
// detection; responses carry the version marker, an explicit success or
// failure line, and support chunked body streams.
type ServerProtocolTwo struct {
	serverProtocolTuple
	// write emits response bytes.
	write func([]byte) error
}

// NewServerProtocolTwo creates a version two server protocol.
func NewServerProtocolTwo(registry *request.Registry, write func([]byte) error, logger *logging.Logger) *ServerProtocolTwo {
	p := &ServerProtocolTwo{write: write}
	p.registry = registry
	p.logger = logger
	p.respond = p.sendResponse
	return p
}

// sendResponse encodes a response in version two form.
func (p *ServerProtocolTwo) sendResponse(response *request.Response) error {
	var out []byte
	out = append(out, ResponseVersionTwo...)
	if response.Successful {
		out = append(out, "success\n"...)
	} else {
		out = append(out, "failed\n"...)
	}
	out = append(out, encodeTuple(response.Args)...)
	if err := p.write(out); err != nil {
		return err
	}
	if response.Body != nil {
		return p.write(encodeLengthPrefixedBody(response.Body))
	}
	if response.BodyStream != nil {
		return p.writeChunkedStream(response.BodyStream)
	}
	if response.BodyChunks != nil {
		return p.write(encodeChunkedBody(response.BodyChunks))
	}
	return nil
}

// writeChunkedStream encodes a body stream as chunks.
func (p *ServerProtocolTwo) writeChunkedStream(stream io.Reader) error {
	if err := p.write([]byte(chunkedBodyHeader)); err != nil {
		return err
	}
	buffer := make([]byte, 4096)
	for {
		read, err := stream.Read(buffer)
		if read > 0 {
			if err := p.write(encodeChunk(buffer[:read])); err != nil {
				return err
			}
		}
		if err == io.EOF {
			break
		} else if err != nil {
			// Signal the interruption in-band so the client fails the body
			// read instead of misinterpreting a truncated stream.
			if writeErr := p.write([]byte(chunkedBodyError)); writeErr != nil {
				return writeErr
			}
			if writeErr := p.write(encodeChunk([]byte("error"))); writeErr != nil {
				return writeErr
			}
			if writeErr := p.write(encodeChunk([]byte(err.Error()))); writeErr != nil {
				return writeErr
			}
			return p.write([]byte(chunkedBodyTerminator))
		}
	}
	return p.write([]byte(chunkedBodyTerminator))
}
