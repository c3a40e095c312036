package medium

import (
	"io"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/logging"
	"github.com/mrod0101/bazaar/pkg/smart/protocol"
	"github.com/mrod0101/bazaar/pkg/smart/request"
	"github.com/mrod0101/bazaar/pkg/version"
)

// StreamServer serves smart protocol requests off a byte stream, detecting
// the protocol version of each request and dispatching through a registry.
type StreamServer struct {
	// registry dispatches commands.
	registry *request.Registry
	// logger receives diagnostics. May be nil.
	logger *logging.Logger
}

// NewStreamServer creates a stream server over a registry.
func NewStreamServer(registry *request.Registry, logger *logging.Logger) *StreamServer {
	return &StreamServer{registry: registry, logger: logger}
}

// Serve reads and answers requests until the stream reaches its end. It
// returns nil on a clean end between requests and an error if the stream
// ends mid-request or fails.
func (s *StreamServer) Serve(stream io.ReadWriter) error {
	write := func(data []byte) error {
		_, err := stream.Write(data)
		return err
	}
	responseHeaders := map[string]string{"Software version": version.Version}

	// buffered holds bytes read past the previous request.
	var buffered []byte
	scratch := make([]byte, 4096)
	for {
		// Accumulate bytes until the protocol version of the next request is
		// unambiguous. A clean stream end here means the client is done.
		var requestVersion, consumed int
		for {
			var ready bool
			requestVersion, consumed, ready = protocol.DetectRequestVersion(buffered)
			if ready && len(buffered) > 0 {
				break
			}
			read, err := stream.Read(scratch)
			if read > 0 {
				buffered = append(buffered, scratch[:read]...)
			}
			if err == io.EOF {
				if len(buffered) == 0 {
					return nil
				}
				// The final read may deliver data together with io.EOF, so
				// the buffered bytes may now form a detectable request.
				requestVersion, consumed, ready = protocol.DetectRequestVersion(buffered)
				if !ready {
					return errors.New("connection closed mid-request")
				}
				break
			} else if err != nil {
				return errors.Wrap(err, "unable to read request")
			}
		}
		s.logger.Debugf("serving protocol version %d request", requestVersion)

		var server protocol.ServerProtocol
		switch requestVersion {
		case 1:
			server = protocol.NewServerProtocolOne(s.registry, write, s.logger)
		case 2:
			server = protocol.NewServerProtocolTwo(s.registry, write, s.logger)
		case 3:
			server = protocol.NewServerProtocolThree(s.registry, write, responseHeaders, s.logger)
		}
		if err := server.AcceptBytes(buffered[consumed:]); err != nil {
			return errors.Wrap(err, "unable to serve request")
		}
		buffered = nil

		for server.NextReadSize() > 0 {
			limit := server.NextReadSize()
			if limit > len(scratch) {
				limit = len(scratch)
			}
			read, err := stream.Read(scratch[:limit])
			if read > 0 {
				if err := server.AcceptBytes(scratch[:read]); err != nil {
					return errors.Wrap(err, "unable to serve request")
				}
			}
			if err == io.EOF {
				if server.NextReadSize() > 0 {
					return errors.New("connection closed mid-request")
				}
				break
			} else if err != nil {
				return errors.Wrap(err, "unable to read request")
			}
		}
		buffered = server.UnusedData()
	}
}
