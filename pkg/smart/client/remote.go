package client

import (
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/smart/protocol"
	"github.com/mrod0101/bazaar/pkg/transport"
)

// RemoteTransport implements transport.Transport against a smart server,
// translating failure tuples back into the typed transport errors they were
// encoded from.
type RemoteTransport struct {
	// client issues the requests.
	client *Client
}

// NewRemoteTransport creates a remote transport over a client.
func NewRemoteTransport(client *Client) *RemoteTransport {
	return &RemoteTransport{client: client}
}

// translateError converts server failure tuples into typed transport errors.
func translateError(err error) error {
	serverErr, ok := err.(*protocol.ErrorFromSmartServer)
	if !ok {
		serverErr, ok = errors.Cause(err).(*protocol.ErrorFromSmartServer)
	}
	if !ok || len(serverErr.Args) == 0 {
		return err
	}
	args := serverErr.Args
	switch args[0] {
	case "NoSuchFile":
		if len(args) > 1 {
			return &transport.NoSuchFileError{Path: args[1]}
		}
	case "FileExists":
		if len(args) > 1 {
			return &transport.FileExistsError{Path: args[1]}
		}
	case "DirectoryNotEmpty":
		if len(args) > 1 {
			return &transport.DirectoryNotEmptyError{Path: args[1]}
		}
	case "ReadOnlyError":
		return &transport.NotPossibleError{Operation: "write to read-only transport"}
	}
	return err
}

// call issues a bodiless request and verifies the expected status word.
func (t *RemoteTransport) call(expected string, args ...string) error {
	responseArgs, err := t.client.Call(args...)
	if err != nil {
		return translateError(err)
	}
	if len(responseArgs) == 0 || responseArgs[0] != expected {
		return errors.Errorf("unexpected response: %v", responseArgs)
	}
	return nil
}

// Has implements transport.Transport.Has.
func (t *RemoteTransport) Has(path string) (bool, error) {
	args, err := t.client.Call("has", path)
	if err != nil {
		return false, translateError(err)
	}
	if len(args) != 1 {
		return false, errors.Errorf("unexpected response: %v", args)
	}
	return args[0] == "yes", nil
}

// Get implements transport.Transport.Get.
func (t *RemoteTransport) Get(path string) ([]byte, error) {
	args, body, err := t.client.CallExpectingBody("get", path)
	if err != nil {
		return nil, translateError(err)
	}
	if len(args) == 0 || args[0] != "ok" {
		return nil, errors.Errorf("unexpected response: %v", args)
	}
	return body, nil
}

// Put implements transport.Transport.Put.
func (t *RemoteTransport) Put(path string, content []byte) error {
	args, err := t.client.CallWithBody(content, "put", path)
	if err != nil {
		return translateError(err)
	}
	if len(args) == 0 || args[0] != "ok" {
		return errors.Errorf("unexpected response: %v", args)
	}
	return nil
}

// Append implements transport.Transport.Append.
func (t *RemoteTransport) Append(path string, content []byte) (int64, error) {
	args, err := t.client.CallWithBody(content, "append", path)
	if err != nil {
		return 0, translateError(err)
	}
	if len(args) != 2 || args[0] != "appended" {
		return 0, errors.Errorf("unexpected response: %v", args)
	}
	offset, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, errors.Errorf("unexpected append offset %q", args[1])
	}
	return offset, nil
}

// Readv implements transport.Transport.Readv. The server coalesces segments
// into a single body in request order, which is split back apart here.
func (t *RemoteTransport) Readv(path string, offsets []transport.Offset) ([][]byte, error) {
	args, body, err := t.client.CallWithReadv(offsets, "readv", path)
	if err != nil {
		return nil, translateError(err)
	}
	if len(args) == 0 || args[0] != "readv" {
		return nil, errors.Errorf("unexpected response: %v", args)
	}
	segments := make([][]byte, len(offsets))
	for o, offset := range offsets {
		if int64(len(body)) < offset.Length {
			return nil, &transport.ShortReadvError{
				Path:   path,
				Offset: offset,
				Actual: int64(len(body)),
			}
		}
		segments[o] = body[:offset.Length]
		body = body[offset.Length:]
	}
	return segments, nil
}

// Mkdir implements transport.Transport.Mkdir.
func (t *RemoteTransport) Mkdir(path string) error {
	return t.call("ok", "mkdir", path)
}

// Delete implements transport.Transport.Delete.
func (t *RemoteTransport) Delete(path string) error {
	return t.call("ok", "delete", path)
}

// Rmdir implements transport.Transport.Rmdir.
func (t *RemoteTransport) Rmdir(path string) error {
	return t.call("ok", "rmdir", path)
}

// Move implements transport.Transport.Move.
func (t *RemoteTransport) Move(source, target string) error {
	return t.call("ok", "move", source, target)
}

// Rename implements transport.Transport.Rename.
func (t *RemoteTransport) Rename(source, target string) error {
	return t.call("ok", "rename", source, target)
}

// Copy implements transport.Transport.Copy.
func (t *RemoteTransport) Copy(source, target string) error {
	return t.call("ok", "copy", source, target)
}

// ListDir implements transport.Transport.ListDir.
func (t *RemoteTransport) ListDir(path string) ([]string, error) {
	args, err := t.client.Call("list_dir", path)
	if err != nil {
		return nil, translateError(err)
	}
	if len(args) == 0 || args[0] != "names" {
		return nil, errors.Errorf("unexpected response: %v", args)
	}
	return args[1:], nil
}

// IterFilesRecursive implements transport.Transport.IterFilesRecursive.
func (t *RemoteTransport) IterFilesRecursive(path string) ([]string, error) {
	args, err := t.client.Call("iter_files_recursive", path)
	if err != nil {
		return nil, translateError(err)
	}
	if len(args) == 0 || args[0] != "names" {
		return nil, errors.Errorf("unexpected response: %v", args)
	}
	return args[1:], nil
}

// Stat implements transport.Transport.Stat.
func (t *RemoteTransport) Stat(path string) (transport.Stat, error) {
	args, err := t.client.Call("stat", path)
	if err != nil {
		return transport.Stat{}, translateError(err)
	}
	if len(args) != 3 || args[0] != "stat" {
		return transport.Stat{}, errors.Errorf("unexpected response: %v", args)
	}
	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return transport.Stat{}, errors.Errorf("unexpected stat size %q", args[1])
	}
	mode, err := strconv.ParseUint(args[2], 8, 32)
	if err != nil {
		return transport.Stat{}, errors.Errorf("unexpected stat mode %q", args[2])
	}
	return transport.Stat{Size: size, Mode: os.FileMode(mode)}, nil
}
