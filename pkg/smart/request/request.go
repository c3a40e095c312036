// Package request implements the command layer of the smart protocol: the
// response envelope, the command registry, and the built-in file access
// commands served over a transport. Protocol versions differ only in framing;
// they all dispatch through this package.
package request

import (
	"io"

	"github.com/pkg/errors"
)

// Response is the result of executing a smart command. A response carries an
// argument tuple and at most one of a byte body or a streamed body.
type Response struct {
	// Successful indicates whether the command succeeded. Failed responses
	// describe the failure in their argument tuple.
	Successful bool
	// Args is the response argument tuple. It is never empty for a valid
	// response.
	Args []string
	// Body is the response body, if any.
	Body []byte
	// BodyStream is the streamed response body, if any.
	BodyStream io.Reader
	// BodyChunks is the response body as discrete chunks, if any. Framings
	// with chunk boundaries preserve them, including zero-length chunks;
	// others concatenate. A response carries at most one body form.
	BodyChunks [][]byte
}

// EnsureValid verifies that a response is well formed.
func (r *Response) EnsureValid() error {
	if r == nil {
		return errors.New("nil response")
	}
	if len(r.Args) == 0 {
		return errors.New("response has no arguments")
	}
	bodyForms := 0
	if r.Body != nil {
		bodyForms++
	}
	if r.BodyStream != nil {
		bodyForms++
	}
	if r.BodyChunks != nil {
		bodyForms++
	}
	if bodyForms > 1 {
		return errors.New("response has multiple body forms")
	}
	if !r.Successful && bodyForms > 0 {
		return errors.New("failed response carries a body")
	}
	return nil
}

// SuccessResponse creates a successful response with no body.
func SuccessResponse(args ...string) *Response {
	return &Response{Successful: true, Args: args}
}

// SuccessResponseWithBody creates a successful response carrying a body.
func SuccessResponseWithBody(body []byte, args ...string) *Response {
	return &Response{Successful: true, Args: args, Body: body}
}

// SuccessResponseWithChunks creates a successful response whose body is a
// sequence of discrete chunks.
func SuccessResponseWithChunks(chunks [][]byte, args ...string) *Response {
	return &Response{Successful: true, Args: args, BodyChunks: chunks}
}

// FailedResponse creates a failed response.
func FailedResponse(args ...string) *Response {
	return &Response{Successful: false, Args: args}
}
