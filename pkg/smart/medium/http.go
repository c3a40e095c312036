package medium

import (
	"bufio"
	"bytes"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/smart/protocol"
)

// httpClientMedium tunnels each request as a single HTTP POST. The request
// bytes are accumulated until writing finishes, then sent in one round trip,
// with the response body serving reads.
type httpClientMedium struct {
	// url is the tunneling endpoint.
	url string
	// client performs the round trips.
	client *http.Client
	// current is the outstanding request, if any.
	current *httpMediumRequest
}

// NewHTTPClientMedium creates a client medium that tunnels requests through
// HTTP POSTs to the specified URL.
func NewHTTPClientMedium(url string) ClientMedium {
	return &httpClientMedium{url: url, client: &http.Client{}}
}

// Request implements ClientMedium.Request.
func (m *httpClientMedium) Request() (protocol.MediumRequest, error) {
	if m.current != nil {
		return nil, ErrTooManyConcurrentRequests
	}
	m.current = &httpMediumRequest{medium: m}
	return m.current, nil
}

// Close implements ClientMedium.Close. HTTP tunneling holds no persistent
// connection state of its own.
func (m *httpClientMedium) Close() error {
	m.client.CloseIdleConnections()
	return nil
}

// httpMediumRequest is a single request on an HTTP client medium.
type httpMediumRequest struct {
	// medium is the owning medium.
	medium *httpClientMedium
	// state is the request phase.
	state requestState
	// outgoing accumulates the request bytes.
	outgoing bytes.Buffer
	// body is the response body once the round trip completes.
	body io.ReadCloser
	// reader buffers the response body.
	reader *bufio.Reader
}

// Write implements io.Writer, accumulating request bytes.
func (r *httpMediumRequest) Write(data []byte) (int, error) {
	if r.state != requestWriting {
		return 0, ErrWritingCompleted
	}
	return r.outgoing.Write(data)
}

// FinishWriting implements MediumRequest.FinishWriting, performing the round
// trip.
func (r *httpMediumRequest) FinishWriting() error {
	if r.state != requestWriting {
		return ErrWritingCompleted
	}
	r.state = requestReading
	response, err := r.medium.client.Post(
		r.medium.url, "application/octet-stream", &r.outgoing,
	)
	if err != nil {
		return &ConnectionError{Address: r.medium.url, Err: err}
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close()
		return errors.Errorf("tunneling endpoint returned %s", response.Status)
	}
	r.body = response.Body
	r.reader = bufio.NewReader(response.Body)
	return nil
}

// ReadBytes implements MediumRequest.ReadBytes.
func (r *httpMediumRequest) ReadBytes(count int) ([]byte, error) {
	if r.state == requestWriting {
		return nil, ErrWritingNotComplete
	} else if r.state == requestDone {
		return nil, protocol.ErrReadingCompleted
	}
	buffer := make([]byte, count)
	read, err := r.reader.Read(buffer)
	if err != nil {
		return nil, err
	}
	return buffer[:read], nil
}

// ReadLine implements MediumRequest.ReadLine.
func (r *httpMediumRequest) ReadLine() ([]byte, error) {
	if r.state == requestWriting {
		return nil, ErrWritingNotComplete
	} else if r.state == requestDone {
		return nil, protocol.ErrReadingCompleted
	}
	return r.reader.ReadBytes('\n')
}

// FinishReading implements MediumRequest.FinishReading.
func (r *httpMediumRequest) FinishReading() error {
	if r.state == requestWriting {
		return ErrWritingNotComplete
	} else if r.state == requestDone {
		return nil
	}
	r.state = requestDone
	r.medium.current = nil
	return r.body.Close()
}
