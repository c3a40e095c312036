package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/bencode"
	"github.com/mrod0101/bazaar/pkg/logging"
	"github.com/mrod0101/bazaar/pkg/smart/request"
)

// Version three message part kinds.
const (
	// messagePartStatus introduces a one-byte response status.
	messagePartStatus = 'o'
	// messagePartStructure introduces a length-prefixed bencoded argument list.
	messagePartStructure = 's'
	// messagePartBytes introduces a length-prefixed raw byte part.
	messagePartBytes = 'b'
	// messagePartEnd terminates a message.
	messagePartEnd = 'e'
)

// Version three response status bytes.
const (
	// statusSuccess marks a successful response.
	statusSuccess = 'S'
	// statusError marks a failed response.
	statusError = 'E'
)

// MessageHandler receives the decoded parts of a version three message in
// wire order.
type MessageHandler interface {
	// HeadersReceived delivers the message headers.
	HeadersReceived(headers map[string]string) error
	// StatusReceived delivers the response status byte. It is not invoked for
	// request messages.
	StatusReceived(successful bool) error
	// ArgsReceived delivers the argument structure.
	ArgsReceived(args []string) error
	// BytesReceived delivers one body part. Large bodies may arrive as
	// multiple parts.
	BytesReceived(data []byte) error
	// EndReceived marks the end of the message.
	EndReceived() error
}

// ProtocolThreeDecoder decodes a version three message, excluding the
// version marker, and forwards its parts to a handler.
type ProtocolThreeDecoder struct {
	// handler receives decoded parts.
	handler MessageHandler
	// buffer holds unconsumed input.
	buffer []byte
	// state tracks decoding progress.
	state messageDecoderState
	// pendingLength is the declared length of the part being read, or -1
	// while the four length bytes are still incomplete.
	pendingLength int
	// pendingKind is the part kind whose payload is being read.
	pendingKind byte
	// unused holds bytes received beyond the message.
	unused []byte
}

// messageDecoderState enumerates ProtocolThreeDecoder states.
type messageDecoderState uint8

const (
	// messageExpectHeaders awaits the length-prefixed header dictionary.
	messageExpectHeaders messageDecoderState = iota
	// messageExpectPartKind awaits a one-byte part kind.
	messageExpectPartKind
	// messageExpectStatus awaits the one-byte status.
	messageExpectStatus
	// messageExpectPartLength awaits the four-byte part length and the
	// payload it announces.
	messageExpectPartLength
	// messageFinished is terminal.
	messageFinished
)

// NewProtocolThreeDecoder creates a decoder forwarding to the specified
// handler.
func NewProtocolThreeDecoder(handler MessageHandler) *ProtocolThreeDecoder {
	return &ProtocolThreeDecoder{handler: handler, pendingLength: -1}
}

// Finished reports whether the message has been fully decoded.
func (d *ProtocolThreeDecoder) Finished() bool {
	return d.state == messageFinished
}

// NextReadSize suggests how many bytes the caller should read next.
func (d *ProtocolThreeDecoder) NextReadSize() int {
	switch d.state {
	case messageExpectHeaders, messageExpectPartLength:
		if d.pendingLength >= 0 {
			return d.pendingLength - len(d.buffer)
		}
		return 4 - len(d.buffer)
	case messageExpectPartKind, messageExpectStatus:
		return 1
	default:
		return 0
	}
}

// AcceptBytes feeds bytes to the decoder.
func (d *ProtocolThreeDecoder) AcceptBytes(data []byte) error {
	d.buffer = append(d.buffer, data...)
	for {
		switch d.state {
		case messageExpectHeaders:
			payload, ok := d.takeLengthPrefixed()
			if !ok {
				return nil
			}
			headers, err := bencode.DecodeStringMap(payload)
			if err != nil {
				return errors.Wrap(err, "malformed message headers")
			}
			if err := d.handler.HeadersReceived(headers); err != nil {
				return err
			}
			d.state = messageExpectPartKind
		case messageExpectPartKind:
			if len(d.buffer) == 0 {
				return nil
			}
			kind := d.buffer[0]
			d.buffer = d.buffer[1:]
			switch kind {
			case messagePartStatus:
				d.state = messageExpectStatus
			case messagePartStructure, messagePartBytes:
				d.pendingKind = kind
				d.pendingLength = -1
				d.state = messageExpectPartLength
			case messagePartEnd:
				if err := d.handler.EndReceived(); err != nil {
					return err
				}
				d.state = messageFinished
			default:
				return errors.Errorf("unknown message part kind %q", kind)
			}
		case messageExpectStatus:
			if len(d.buffer) == 0 {
				return nil
			}
			status := d.buffer[0]
			d.buffer = d.buffer[1:]
			if status != statusSuccess && status != statusError {
				return errors.Errorf("unknown status byte %q", status)
			}
			if err := d.handler.StatusReceived(status == statusSuccess); err != nil {
				return err
			}
			d.state = messageExpectPartKind
		case messageExpectPartLength:
			payload, ok := d.takeLengthPrefixed()
			if !ok {
				return nil
			}
			if err := d.deliverPart(payload); err != nil {
				return err
			}
			d.state = messageExpectPartKind
		case messageFinished:
			d.unused = append(d.unused, d.buffer...)
			d.buffer = nil
			return nil
		}
	}
}

// takeLengthPrefixed consumes a four-byte big-endian length and that many
// payload bytes, buffering across calls.
func (d *ProtocolThreeDecoder) takeLengthPrefixed() ([]byte, bool) {
	if d.pendingLength < 0 {
		if len(d.buffer) < 4 {
			return nil, false
		}
		d.pendingLength = int(binary.BigEndian.Uint32(d.buffer[:4]))
		d.buffer = d.buffer[4:]
	}
	if len(d.buffer) < d.pendingLength {
		return nil, false
	}
	payload := d.buffer[:d.pendingLength]
	d.buffer = d.buffer[d.pendingLength:]
	d.pendingLength = -1
	return payload, true
}

// deliverPart forwards a structure or bytes payload to the handler.
func (d *ProtocolThreeDecoder) deliverPart(payload []byte) error {
	if d.pendingKind == messagePartStructure {
		args, err := bencode.DecodeStringList(payload)
		if err != nil {
			return errors.Wrap(err, "malformed message structure")
		}
		return d.handler.ArgsReceived(args)
	}
	return d.handler.BytesReceived(payload)
}

// Unused returns bytes received beyond the message.
func (d *ProtocolThreeDecoder) Unused() []byte {
	return d.unused
}

// encodeMessageHeaders encodes a bencoded header dictionary with its
// four-byte length prefix.
func encodeMessageHeaders(headers map[string]string) ([]byte, error) {
	encoded, err := bencode.Encode(headers)
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode headers")
	}
	return appendLengthPrefixed(nil, encoded), nil
}

// appendLengthPrefixed appends a four-byte big-endian length and the payload.
func appendLengthPrefixed(out []byte, payload []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	out = append(out, length[:]...)
	return append(out, payload...)
}

// encodeStructurePart encodes an argument list as a structure part.
func encodeStructurePart(args []string) ([]byte, error) {
	encoded, err := bencode.Encode(args)
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode arguments")
	}
	return appendLengthPrefixed([]byte{messagePartStructure}, encoded), nil
}

// encodeBytesPart encodes a raw byte part.
func encodeBytesPart(data []byte) []byte {
	return appendLengthPrefixed([]byte{messagePartBytes}, data)
}

// ProtocolThreeResponder writes version three response messages.
type ProtocolThreeResponder struct {
	// write emits response bytes.
	write func([]byte) error
	// headers are sent with every response.
	headers map[string]string
}

// NewProtocolThreeResponder creates a responder writing through the specified
// callback with the specified headers.
func NewProtocolThreeResponder(write func([]byte) error, headers map[string]string) *ProtocolThreeResponder {
	if headers == nil {
		headers = map[string]string{}
	}
	return &ProtocolThreeResponder{write: write, headers: headers}
}

// SendResponse encodes and writes a complete response message.
func (r *ProtocolThreeResponder) SendResponse(response *request.Response) error {
	out := []byte(MessageVersionThree)
	encodedHeaders, err := encodeMessageHeaders(r.headers)
	if err != nil {
		return err
	}
	out = append(out, encodedHeaders...)
	out = append(out, messagePartStatus)
	if response.Successful {
		out = append(out, statusSuccess)
	} else {
		out = append(out, statusError)
	}
	structure, err := encodeStructurePart(response.Args)
	if err != nil {
		return err
	}
	out = append(out, structure...)
	if err := r.write(out); err != nil {
		return err
	}
	if response.Body != nil {
		if err := r.write(encodeBytesPart(response.Body)); err != nil {
			return err
		}
	} else if response.BodyStream != nil {
		buffer := make([]byte, 4096)
		for {
			read, readErr := response.BodyStream.Read(buffer)
			if read > 0 {
				if err := r.write(encodeBytesPart(buffer[:read])); err != nil {
					return err
				}
			}
			if readErr != nil {
				if readErr == io.EOF {
					break
				}
				// Interrupt the body with an error structure so the client
				// fails the read instead of treating the body as complete.
				interruption, err := encodeStructurePart(
					[]string{"error", readErr.Error()},
				)
				if err != nil {
					return err
				}
				interruption = append(interruption, messagePartEnd)
				return r.write(interruption)
			}
		}
	} else if response.BodyChunks != nil {
		for _, chunk := range response.BodyChunks {
			if err := r.write(encodeBytesPart(chunk)); err != nil {
				return err
			}
		}
	}
	return r.write([]byte{messagePartEnd})
}

// ConventionalRequestHandler decodes a version three request message,
// dispatches it through a registry, and answers through a responder.
type ConventionalRequestHandler struct {
	// registry dispatches commands.
	registry *request.Registry
	// responder writes the response.
	responder *ProtocolThreeResponder
	// logger receives diagnostics. May be nil.
	logger *logging.Logger
	// args holds the received argument structure.
	args []string
	// body accumulates received body parts. It stays nil when the request
	// carries no body.
	body []byte
	// haveBody indicates that at least one body part arrived.
	haveBody bool
}

// NewConventionalRequestHandler creates a request handler over a registry and
// responder.
func NewConventionalRequestHandler(registry *request.Registry, responder *ProtocolThreeResponder, logger *logging.Logger) *ConventionalRequestHandler {
	return &ConventionalRequestHandler{
		registry:  registry,
		responder: responder,
		logger:    logger,
	}
}

// HeadersReceived implements MessageHandler.HeadersReceived.
func (h *ConventionalRequestHandler) HeadersReceived(headers map[string]string) error {
	return nil
}

// StatusReceived implements MessageHandler.StatusReceived. Requests carry no
// status part.
func (h *ConventionalRequestHandler) StatusReceived(successful bool) error {
	return errors.New("unexpected status part in request message")
}

// ArgsReceived implements MessageHandler.ArgsReceived.
func (h *ConventionalRequestHandler) ArgsReceived(args []string) error {
	if len(args) == 0 {
		return errors.New("empty request arguments")
	}
	h.args = args
	return nil
}

// BytesReceived implements MessageHandler.BytesReceived.
func (h *ConventionalRequestHandler) BytesReceived(data []byte) error {
	h.haveBody = true
	h.body = append(h.body, data...)
	return nil
}

// EndReceived implements MessageHandler.EndReceived, dispatching the request
// and sending its response.
func (h *ConventionalRequestHandler) EndReceived() error {
	if len(h.args) == 0 {
		return errors.New("request ended without arguments")
	}
	h.logger.Debugf("request: %s", h.args[0])
	var body []byte
	if h.haveBody {
		body = h.body
		if body == nil {
			body = []byte{}
		}
	}
	response := h.registry.Dispatch(h.args[0], h.args[1:], body)
	return h.responder.SendResponse(response)
}

// ServerProtocolThree serves a single version three request.
type ServerProtocolThree struct {
	// decoder decodes the request message.
	decoder *ProtocolThreeDecoder
}

// NewServerProtocolThree creates a version three server protocol.
func NewServerProtocolThree(registry *request.Registry, write func([]byte) error, headers map[string]string, logger *logging.Logger) *ServerProtocolThree {
	responder := NewProtocolThreeResponder(write, headers)
	handler := NewConventionalRequestHandler(registry, responder, logger)
	return &ServerProtocolThree{decoder: NewProtocolThreeDecoder(handler)}
}

// AcceptBytes implements ServerProtocol.AcceptBytes.
func (p *ServerProtocolThree) AcceptBytes(data []byte) error {
	return p.decoder.AcceptBytes(data)
}

// NextReadSize implements ServerProtocol.NextReadSize.
func (p *ServerProtocolThree) NextReadSize() int {
	return p.decoder.NextReadSize()
}

// UnusedData implements ServerProtocol.UnusedData.
func (p *ServerProtocolThree) UnusedData() []byte {
	return p.decoder.Unused()
}
