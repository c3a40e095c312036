package request

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/logging"
	"github.com/mrod0101/bazaar/pkg/transport"
)

// HandlerFunc executes a smart command. Commands that declare a request body
// receive it in body; all others receive nil.
type HandlerFunc func(args []string, body []byte) (*Response, error)

// command pairs a handler with its body expectation.
type command struct {
	// handler executes the command.
	handler HandlerFunc
	// expectsBody indicates whether the command consumes a request body.
	expectsBody bool
}

// Registry maps command names to handlers and dispatches requests. Dispatch
// never returns an error; failures become failed responses so that protocol
// state machines can always answer.
type Registry struct {
	// logger receives dispatch diagnostics. May be nil.
	logger *logging.Logger
	// commands maps command names to their registrations.
	commands map[string]command
}

// NewRegistry creates an empty command registry.
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		logger:   logger,
		commands: make(map[string]command),
	}
}

// Register records a command handler. Registering a duplicate name is an
// error.
func (r *Registry) Register(name string, expectsBody bool, handler HandlerFunc) error {
	if _, ok := r.commands[name]; ok {
		return errors.Errorf("command %q already registered", name)
	}
	r.commands[name] = command{handler: handler, expectsBody: expectsBody}
	return nil
}

// ExpectsBody reports whether a command consumes a request body. Unknown
// commands expect none.
func (r *Registry) ExpectsBody(name string) bool {
	return r.commands[name].expectsBody
}

// BadRequestError marks a request as malformed at the command layer. Its
// message is safe to send to the peer.
type BadRequestError struct {
	// Message describes the problem with the request.
	Message string
}

// Error implements error.Error.
func (e *BadRequestError) Error() string {
	return e.Message
}

// badRequestResponse builds the generic failure sent for unparseable or
// unknown requests.
func badRequestResponse(name string) *Response {
	return FailedResponse("error", fmt.Sprintf("Generic bzr smart protocol error: bad request '%s'", name))
}

// Dispatch executes a command and converts any failure into a failed
// response.
func (r *Registry) Dispatch(name string, args []string, body []byte) *Response {
	registration, ok := r.commands[name]
	if !ok {
		r.logger.Debugf("unknown command %q", name)
		return badRequestResponse(name)
	}
	response, err := registration.handler(args, body)
	if err != nil {
		return r.failedResponseFromError(name, err)
	}
	if err := response.EnsureValid(); err != nil {
		r.logger.Debugf("command %q produced an invalid response: %v", name, err)
		return FailedResponse("error", "Generic bzr smart protocol error: invalid response")
	}
	return response
}

// failedResponseFromError translates command errors into wire-level failure
// tuples. Unrecognized errors are logged locally and answered with a generic
// failure so that internal error text never reaches the peer.
func (r *Registry) failedResponseFromError(name string, err error) *Response {
	r.logger.Debugf("command %q failed: %v", name, err)
	var badRequest *BadRequestError
	if errors.As(err, &badRequest) {
		return FailedResponse("error", fmt.Sprintf("Generic bzr smart protocol error: %s", badRequest.Message))
	}
	var noSuchFile *transport.NoSuchFileError
	if errors.As(err, &noSuchFile) {
		return FailedResponse("NoSuchFile", noSuchFile.Path)
	}
	var fileExists *transport.FileExistsError
	if errors.As(err, &fileExists) {
		return FailedResponse("FileExists", fileExists.Path)
	}
	var notEmpty *transport.DirectoryNotEmptyError
	if errors.As(err, &notEmpty) {
		return FailedResponse("DirectoryNotEmpty", notEmpty.Path)
	}
	var notPossible *transport.NotPossibleError
	if errors.As(err, &notPossible) {
		return FailedResponse("ReadOnlyError")
	}
	var shortReadv *transport.ShortReadvError
	if errors.As(err, &shortReadv) {
		return FailedResponse("ShortReadvError", shortReadv.Path,
			fmt.Sprintf("%d", shortReadv.Offset.Start),
			fmt.Sprintf("%d", shortReadv.Offset.Length),
			fmt.Sprintf("%d", shortReadv.Actual))
	}
	r.logger.Warn(errors.Wrapf(err, "command %q failed unexpectedly", name))
	return FailedResponse("error", "Generic bzr smart protocol error: unexpected error")
}
