// Package client provides a request-level smart protocol client that
// negotiates a protocol version with the server and remembers it for
// subsequent requests. It also provides a remote transport implementation
// backed by the client.
package client

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/logging"
	"github.com/mrod0101/bazaar/pkg/smart/medium"
	"github.com/mrod0101/bazaar/pkg/smart/protocol"
	"github.com/mrod0101/bazaar/pkg/transport"
)

// Client issues smart protocol requests over a client medium. The first
// exchange negotiates the protocol version through the hello command, spoken
// in the oldest encoding so that any server understands it; the negotiated
// version is used for all subsequent requests.
type Client struct {
	// medium carries the requests.
	medium medium.ClientMedium
	// logger receives diagnostics. May be nil.
	logger *logging.Logger
	// version is the negotiated protocol version, zero before negotiation.
	version int
}

// New creates a client over a medium.
func New(clientMedium medium.ClientMedium, logger *logging.Logger) *Client {
	return &Client{medium: clientMedium, logger: logger}
}

// QueryVersion negotiates the protocol version with the server, returning
// the highest version both sides speak.
func (c *Client) QueryVersion() (int, error) {
	if c.version != 0 {
		return c.version, nil
	}
	mediumRequest, err := c.medium.Request()
	if err != nil {
		return 0, err
	}
	hello := protocol.NewClientProtocolOne(mediumRequest)
	if err := hello.Call("hello"); err != nil {
		return 0, errors.Wrap(err, "unable to send hello")
	}
	args, err := hello.ReadResponseTuple(false)
	if err != nil {
		return 0, errors.Wrap(err, "unable to read hello response")
	}
	if len(args) != 2 || args[0] != "ok" {
		return 0, errors.Errorf("unexpected hello response: %v", args)
	}
	serverVersion, err := strconv.Atoi(args[1])
	if err != nil || serverVersion < 1 {
		return 0, errors.Errorf("unexpected server version %q", args[1])
	}
	if serverVersion > 3 {
		serverVersion = 3
	}
	c.version = serverVersion
	c.logger.Debugf("negotiated protocol version %d", serverVersion)
	return c.version, nil
}

// newProtocol begins a request in the negotiated version.
func (c *Client) newProtocol() (protocol.ClientProtocol, error) {
	if _, err := c.QueryVersion(); err != nil {
		return nil, err
	}
	mediumRequest, err := c.medium.Request()
	if err != nil {
		return nil, err
	}
	switch c.version {
	case 1:
		return protocol.NewClientProtocolOne(mediumRequest), nil
	case 2:
		return protocol.NewClientProtocolTwo(mediumRequest), nil
	default:
		return protocol.NewClientProtocolThree(mediumRequest), nil
	}
}

// Call issues a request with no bodies in either direction.
func (c *Client) Call(args ...string) ([]string, error) {
	proto, err := c.newProtocol()
	if err != nil {
		return nil, err
	}
	if err := proto.Call(args...); err != nil {
		return nil, err
	}
	return proto.ReadResponseTuple(false)
}

// CallExpectingBody issues a request with no request body and reads the
// response body.
func (c *Client) CallExpectingBody(args ...string) ([]string, []byte, error) {
	proto, err := c.newProtocol()
	if err != nil {
		return nil, nil, err
	}
	if err := proto.Call(args...); err != nil {
		return nil, nil, err
	}
	responseArgs, err := proto.ReadResponseTuple(true)
	if err != nil {
		return nil, nil, err
	}
	body, err := proto.ReadBodyBytes()
	if err != nil {
		return nil, nil, err
	}
	return responseArgs, body, nil
}

// CallWithBody issues a request carrying a byte body.
func (c *Client) CallWithBody(body []byte, args ...string) ([]string, error) {
	proto, err := c.newProtocol()
	if err != nil {
		return nil, err
	}
	if err := proto.CallWithBodyBytes(body, args...); err != nil {
		return nil, err
	}
	return proto.ReadResponseTuple(false)
}

// CallWithReadv issues a request carrying a serialized offset list and reads
// the response body.
func (c *Client) CallWithReadv(offsets []transport.Offset, args ...string) ([]string, []byte, error) {
	proto, err := c.newProtocol()
	if err != nil {
		return nil, nil, err
	}
	if err := proto.CallWithReadv(offsets, args...); err != nil {
		return nil, nil, err
	}
	responseArgs, err := proto.ReadResponseTuple(true)
	if err != nil {
		return nil, nil, err
	}
	body, err := proto.ReadBodyBytes()
	if err != nil {
		return nil, nil, err
	}
	return responseArgs, body, nil
}

// Close closes the underlying medium.
func (c *Client) Close() error {
	return c.medium.Close()
}
