package protocol

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/smart/request"
	"github.com/mrod0101/bazaar/pkg/transport"
	"github.com/mrod0101/bazaar/pkg/version"
)

// ClientProtocol is the client side of one request/response exchange over a
// medium request.
type ClientProtocol interface {
	// Call sends a request with no body.
	Call(args ...string) error
	// CallWithBodyBytes sends a request with a byte body.
	CallWithBodyBytes(body []byte, args ...string) error
	// CallWithReadv sends a request whose body is a serialized offset list.
	CallWithReadv(offsets []transport.Offset, args ...string) error
	// ReadResponseTuple reads the response arguments. The caller must declare
	// whether it intends to read a response body, since some protocol
	// versions release the medium as soon as the tuple has been read
	// otherwise.
	ReadResponseTuple(expectBody bool) ([]string, error)
	// ReadBodyBytes reads the complete response body and releases the medium.
	ReadBodyBytes() ([]byte, error)
	// CancelReadBody abandons a declared body read, releasing the medium. A
	// subsequent ReadBodyBytes fails with ErrReadingCompleted.
	CancelReadBody() error
}

// ClientProtocolOne drives a version one exchange.
type ClientProtocolOne struct {
	// medium is the underlying request.
	medium MediumRequest
	// finishedReading indicates that the response has been fully consumed or
	// abandoned.
	finishedReading bool
}

// NewClientProtocolOne creates a version one client protocol over a medium
// request.
func NewClientProtocolOne(medium MediumRequest) *ClientProtocolOne {
	return &ClientProtocolOne{medium: medium}
}

// Call implements ClientProtocol.Call.
func (p *ClientProtocolOne) Call(args ...string) error {
	if _, err := p.medium.Write(encodeTuple(args)); err != nil {
		return err
	}
	return p.medium.FinishWriting()
}

// CallWithBodyBytes implements ClientProtocol.CallWithBodyBytes.
func (p *ClientProtocolOne) CallWithBodyBytes(body []byte, args ...string) error {
	if _, err := p.medium.Write(encodeTuple(args)); err != nil {
		return err
	}
	if _, err := p.medium.Write(encodeLengthPrefixedBody(body)); err != nil {
		return err
	}
	return p.medium.FinishWriting()
}

// CallWithReadv implements ClientProtocol.CallWithReadv.
func (p *ClientProtocolOne) CallWithReadv(offsets []transport.Offset, args ...string) error {
	return p.CallWithBodyBytes(request.SerializeOffsets(offsets), args...)
}

// ReadResponseTuple implements ClientProtocol.ReadResponseTuple.
func (p *ClientProtocolOne) ReadResponseTuple(expectBody bool) ([]string, error) {
	if p.finishedReading {
		return nil, ErrReadingCompleted
	}
	line, err := p.medium.ReadLine()
	if err != nil {
		return nil, err
	}
	args := decodeTuple(line)
	if !expectBody {
		p.finishedReading = true
		if err := p.medium.FinishReading(); err != nil {
			return nil, err
		}
	}
	return args, nil
}

// ReadBodyBytes implements ClientProtocol.ReadBodyBytes.
func (p *ClientProtocolOne) ReadBodyBytes() ([]byte, error) {
	if p.finishedReading {
		return nil, ErrReadingCompleted
	}
	body, err := readLengthPrefixedBody(p.medium)
	if err != nil {
		return nil, err
	}
	p.finishedReading = true
	if err := p.medium.FinishReading(); err != nil {
		return nil, err
	}
	return body, nil
}

// CancelReadBody implements ClientProtocol.CancelReadBody. The body bytes are
// left unread on the medium, so the medium cannot serve further requests, but
// the protocol no longer blocks on them.
func (p *ClientProtocolOne) CancelReadBody() error {
	if p.finishedReading {
		return nil
	}
	p.finishedReading = true
	return p.medium.FinishReading()
}

// readLengthPrefixedBody reads a length-prefixed body from a medium request.
func readLengthPrefixedBody(medium MediumRequest) ([]byte, error) {
	line, err := medium.ReadLine()
	if err != nil {
		return nil, err
	}
	decoder := NewLengthPrefixedBodyDecoder()
	if err := decoder.Accept(line); err != nil {
		return nil, err
	}
	var body []byte
	for !decoder.Finished() {
		data, err := medium.ReadBytes(decoder.NextReadSize())
		if err != nil {
			return nil, err
		}
		if err := decoder.Accept(data); err != nil {
			return nil, err
		}
		body = append(body, decoder.ReadPending()...)
	}
	return append(body, decoder.ReadPending()...), nil
}

// ClientProtocolTwo drives a version two exchange.
type ClientProtocolTwo struct {
	// medium is the underlying request.
	medium MediumRequest
	// finishedReading indicates that the response has been fully consumed or
	// abandoned.
	finishedReading bool
	// chunkDecoder decodes a streamed body once NextBodyChunk has started.
	chunkDecoder *ChunkedBodyDecoder
}

// NewClientProtocolTwo creates a version two client protocol over a medium
// request.
func NewClientProtocolTwo(medium MediumRequest) *ClientProtocolTwo {
	return &ClientProtocolTwo{medium: medium}
}

// Call implements ClientProtocol.Call.
func (p *ClientProtocolTwo) Call(args ...string) error {
	if _, err := p.medium.Write([]byte(RequestVersionTwo)); err != nil {
		return err
	}
	if _, err := p.medium.Write(encodeTuple(args)); err != nil {
		return err
	}
	return p.medium.FinishWriting()
}

// CallWithBodyBytes implements ClientProtocol.CallWithBodyBytes.
func (p *ClientProtocolTwo) CallWithBodyBytes(body []byte, args ...string) error {
	if _, err := p.medium.Write([]byte(RequestVersionTwo)); err != nil {
		return err
	}
	if _, err := p.medium.Write(encodeTuple(args)); err != nil {
		return err
	}
	if _, err := p.medium.Write(encodeLengthPrefixedBody(body)); err != nil {
		return err
	}
	return p.medium.FinishWriting()
}

// CallWithReadv implements ClientProtocol.CallWithReadv.
func (p *ClientProtocolTwo) CallWithReadv(offsets []transport.Offset, args ...string) error {
	return p.CallWithBodyBytes(request.SerializeOffsets(offsets), args...)
}

// ReadResponseTuple implements ClientProtocol.ReadResponseTuple. Failed
// responses are surfaced as ErrorFromSmartServer and release the medium.
func (p *ClientProtocolTwo) ReadResponseTuple(expectBody bool) ([]string, error) {
	if p.finishedReading {
		return nil, ErrReadingCompleted
	}
	marker, err := p.medium.ReadLine()
	if err != nil {
		return nil, err
	}
	if string(marker) != ResponseVersionTwo {
		return nil, errors.Errorf("unexpected response marker %q", marker)
	}
	status, err := p.medium.ReadLine()
	if err != nil {
		return nil, err
	}
	line, err := p.medium.ReadLine()
	if err != nil {
		return nil, err
	}
	args := decodeTuple(line)
	switch string(status) {
	case "success\n":
	case "failed\n":
		p.finishedReading = true
		if err := p.medium.FinishReading(); err != nil {
			return nil, err
		}
		return nil, &ErrorFromSmartServer{Args: args}
	default:
		return nil, errors.Errorf("unexpected response status %q", status)
	}
	if !expectBody {
		p.finishedReading = true
		if err := p.medium.FinishReading(); err != nil {
			return nil, err
		}
	}
	return args, nil
}

// ReadBodyBytes implements ClientProtocol.ReadBodyBytes. It handles both
// length-prefixed and chunked bodies, concatenating chunks in the latter
// case.
func (p *ClientProtocolTwo) ReadBodyBytes() ([]byte, error) {
	if p.finishedReading {
		return nil, ErrReadingCompleted
	}
	var body []byte
	for {
		chunk, err := p.NextBodyChunk()
		if err == io.EOF {
			return body, nil
		} else if err != nil {
			return nil, err
		}
		body = append(body, chunk...)
		// Length-prefixed bodies arrive as a single chunk and consume the
		// response entirely.
		if p.finishedReading {
			return body, nil
		}
	}
}

// NextBodyChunk reads the next chunk of a streamed body. It returns io.EOF
// once the body terminates cleanly and ErrorFromSmartServer if the body
// terminates with in-band error arguments. Length-prefixed bodies are
// returned as a single chunk.
func (p *ClientProtocolTwo) NextBodyChunk() ([]byte, error) {
	if p.finishedReading {
		return nil, ErrReadingCompleted
	}
	if p.chunkDecoder == nil {
		line, err := p.medium.ReadLine()
		if err != nil {
			return nil, err
		}
		if string(line) != chunkedBodyHeader {
			return p.finishLengthPrefixedBody(line)
		}
		p.chunkDecoder = NewChunkedBodyDecoder()
		if err := p.chunkDecoder.Accept(line); err != nil {
			return nil, err
		}
	}
	for {
		if chunk, ok := p.chunkDecoder.NextChunk(); ok {
			return chunk, nil
		}
		if p.chunkDecoder.Finished() {
			p.finishedReading = true
			if err := p.medium.FinishReading(); err != nil {
				return nil, err
			}
			if p.chunkDecoder.Error() {
				return nil, &ErrorFromSmartServer{Args: p.chunkDecoder.ErrorArgs()}
			}
			return nil, io.EOF
		}
		data, err := p.medium.ReadBytes(p.chunkDecoder.NextReadSize())
		if err != nil {
			return nil, err
		}
		if err := p.chunkDecoder.Accept(data); err != nil {
			return nil, err
		}
	}
}

// finishLengthPrefixedBody consumes a length-prefixed body whose first line
// has already been read.
func (p *ClientProtocolTwo) finishLengthPrefixedBody(line []byte) ([]byte, error) {
	decoder := NewLengthPrefixedBodyDecoder()
	if err := decoder.Accept(line); err != nil {
		return nil, err
	}
	var body []byte
	for !decoder.Finished() {
		data, err := p.medium.ReadBytes(decoder.NextReadSize())
		if err != nil {
			return nil, err
		}
		if err := decoder.Accept(data); err != nil {
			return nil, err
		}
		body = append(body, decoder.ReadPending()...)
	}
	body = append(body, decoder.ReadPending()...)
	p.finishedReading = true
	if err := p.medium.FinishReading(); err != nil {
		return nil, err
	}
	return body, nil
}

// CancelReadBody implements ClientProtocol.CancelReadBody.
func (p *ClientProtocolTwo) CancelReadBody() error {
	if p.finishedReading {
		return nil
	}
	p.finishedReading = true
	return p.medium.FinishReading()
}

// clientMessageHandler collects the parts of a version three response.
type clientMessageHandler struct {
	// haveStatus indicates that the status part arrived.
	haveStatus bool
	// successful is the received status.
	successful bool
	// args holds the received arguments, nil until the structure part
	// arrives.
	args []string
	// interruption holds a second structure received after the first,
	// indicating an error raised while the server streamed the body.
	interruption []string
	// body accumulates body parts.
	body []byte
	// ended indicates that the end part arrived.
	ended bool
}

// HeadersReceived implements MessageHandler.HeadersReceived.
func (h *clientMessageHandler) HeadersReceived(headers map[string]string) error {
	return nil
}

// StatusReceived implements MessageHandler.StatusReceived.
func (h *clientMessageHandler) StatusReceived(successful bool) error {
	h.haveStatus = true
	h.successful = successful
	return nil
}

// ArgsReceived implements MessageHandler.ArgsReceived.
func (h *clientMessageHandler) ArgsReceived(args []string) error {
	if h.args == nil {
		h.args = args
		return nil
	}
	h.interruption = args
	return nil
}

// BytesReceived implements MessageHandler.BytesReceived.
func (h *clientMessageHandler) BytesReceived(data []byte) error {
	h.body = append(h.body, data...)
	return nil
}

// EndReceived implements MessageHandler.EndReceived.
func (h *clientMessageHandler) EndReceived() error {
	h.ended = true
	return nil
}

// ClientProtocolThree drives a version three exchange.
type ClientProtocolThree struct {
	// medium is the underlying request.
	medium MediumRequest
	// headers are sent with every request.
	headers map[string]string
	// handler collects the decoded response.
	handler *clientMessageHandler
	// decoder decodes the response message.
	decoder *ProtocolThreeDecoder
	// finishedReading indicates that the response has been fully consumed or
	// abandoned.
	finishedReading bool
}

// NewClientProtocolThree creates a version three client protocol over a
// medium request, advertising the software version in the message headers.
func NewClientProtocolThree(medium MediumRequest) *ClientProtocolThree {
	handler := &clientMessageHandler{}
	return &ClientProtocolThree{
		medium:  medium,
		headers: map[string]string{"Software version": version.Version},
		handler: handler,
		decoder: NewProtocolThreeDecoder(handler),
	}
}

// call encodes and writes a complete request message.
func (p *ClientProtocolThree) call(body []byte, haveBody bool, args []string) error {
	out := []byte(MessageVersionThree)
	encodedHeaders, err := encodeMessageHeaders(p.headers)
	if err != nil {
		return err
	}
	out = append(out, encodedHeaders...)
	structure, err := encodeStructurePart(args)
	if err != nil {
		return err
	}
	out = append(out, structure...)
	if haveBody {
		out = append(out, encodeBytesPart(body)...)
	}
	out = append(out, messagePartEnd)
	if _, err := p.medium.Write(out); err != nil {
		return err
	}
	return p.medium.FinishWriting()
}

// Call implements ClientProtocol.Call.
func (p *ClientProtocolThree) Call(args ...string) error {
	return p.call(nil, false, args)
}

// CallWithBodyBytes implements ClientProtocol.CallWithBodyBytes.
func (p *ClientProtocolThree) CallWithBodyBytes(body []byte, args ...string) error {
	return p.call(body, true, args)
}

// CallWithReadv implements ClientProtocol.CallWithReadv.
func (p *ClientProtocolThree) CallWithReadv(offsets []transport.Offset, args ...string) error {
	return p.call(request.SerializeOffsets(offsets), true, args)
}

// decodeUntil feeds response bytes to the decoder until the condition holds
// or the message ends.
func (p *ClientProtocolThree) decodeUntil(condition func() bool) error {
	marker := make([]byte, 0, len(MessageVersionThree))
	for len(marker) < len(MessageVersionThree) {
		data, err := p.medium.ReadBytes(len(MessageVersionThree) - len(marker))
		if err != nil {
			return err
		}
		marker = append(marker, data...)
	}
	if !bytes.Equal(marker, []byte(MessageVersionThree)) {
		return errors.Errorf("unexpected response marker %q", marker)
	}
	return p.decodeRemainderUntil(condition)
}

// decodeRemainderUntil continues decoding after the marker has been consumed.
func (p *ClientProtocolThree) decodeRemainderUntil(condition func() bool) error {
	for !condition() && !p.decoder.Finished() {
		data, err := p.medium.ReadBytes(p.decoder.NextReadSize())
		if err != nil {
			return err
		}
		if err := p.decoder.AcceptBytes(data); err != nil {
			return err
		}
	}
	return nil
}

// ReadResponseTuple implements ClientProtocol.ReadResponseTuple. Error
// responses are surfaced as ErrorFromSmartServer and release the medium.
func (p *ClientProtocolThree) ReadResponseTuple(expectBody bool) ([]string, error) {
	if p.finishedReading {
		return nil, ErrReadingCompleted
	}
	if err := p.decodeUntil(func() bool {
		return p.handler.args != nil
	}); err != nil {
		return nil, err
	}
	if p.handler.args == nil {
		return nil, errors.New("response ended without arguments")
	}
	if !p.handler.haveStatus {
		return nil, errors.New("response missing status")
	}
	if !p.handler.successful {
		if err := p.finish(); err != nil {
			return nil, err
		}
		return nil, &ErrorFromSmartServer{Args: p.handler.args}
	}
	if !expectBody {
		if err := p.finish(); err != nil {
			return nil, err
		}
	}
	return p.handler.args, nil
}

// ReadBodyBytes implements ClientProtocol.ReadBodyBytes.
func (p *ClientProtocolThree) ReadBodyBytes() ([]byte, error) {
	if p.finishedReading {
		return nil, ErrReadingCompleted
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	if p.handler.interruption != nil {
		return nil, &ErrorFromSmartServer{Args: p.handler.interruption}
	}
	return p.handler.body, nil
}

// CancelReadBody implements ClientProtocol.CancelReadBody. The remainder of
// the message is drained so that the medium stays usable.
func (p *ClientProtocolThree) CancelReadBody() error {
	if p.finishedReading {
		return nil
	}
	return p.finish()
}

// finish drains the message to its end part and releases the medium.
func (p *ClientProtocolThree) finish() error {
	if err := p.decodeRemainderUntil(func() bool {
		return p.handler.ended
	}); err != nil {
		return err
	}
	p.finishedReading = true
	return p.medium.FinishReading()
}
