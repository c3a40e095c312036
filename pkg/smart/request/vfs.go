package request

import (
	"fmt"

	"github.com/mrod0101/bazaar/pkg/logging"
	"github.com/mrod0101/bazaar/pkg/transport"
)

// ProtocolVersion is the highest protocol version offered in hello responses.
const ProtocolVersion = "3"

// RegisterHello registers the version negotiation command.
func RegisterHello(registry *Registry) error {
	return registry.Register("hello", false, func(args []string, body []byte) (*Response, error) {
		return SuccessResponse("ok", ProtocolVersion), nil
	})
}

// errWrongArgCount builds the failure for a malformed argument tuple.
func errWrongArgCount(name string) error {
	return &BadRequestError{Message: fmt.Sprintf("wrong number of arguments for %s", name)}
}

// RegisterVFS registers the file access commands against a backing transport.
// Mutating commands fail with ReadOnlyError when the transport is read-only.
func RegisterVFS(registry *Registry, backing transport.Transport) error {
	register := func(name string, expectsBody bool, handler HandlerFunc) error {
		return registry.Register(name, expectsBody, handler)
	}

	if err := register("has", false, func(args []string, body []byte) (*Response, error) {
		if len(args) != 1 {
			return nil, errWrongArgCount("has")
		}
		present, err := backing.Has(args[0])
		if err != nil {
			return nil, err
		}
		if present {
			return SuccessResponse("yes"), nil
		}
		return SuccessResponse("no"), nil
	}); err != nil {
		return err
	}

	if err := register("get", false, func(args []string, body []byte) (*Response, error) {
		if len(args) != 1 {
			return nil, errWrongArgCount("get")
		}
		content, err := backing.Get(args[0])
		if err != nil {
			return nil, err
		}
		return SuccessResponseWithBody(content, "ok"), nil
	}); err != nil {
		return err
	}

	if err := register("put", true, func(args []string, body []byte) (*Response, error) {
		if len(args) != 1 {
			return nil, errWrongArgCount("put")
		}
		if err := backing.Put(args[0], body); err != nil {
			return nil, err
		}
		return SuccessResponse("ok"), nil
	}); err != nil {
		return err
	}

	if err := register("append", true, func(args []string, body []byte) (*Response, error) {
		if len(args) != 1 {
			return nil, errWrongArgCount("append")
		}
		offset, err := backing.Append(args[0], body)
		if err != nil {
			return nil, err
		}
		return SuccessResponse("appended", fmt.Sprintf("%d", offset)), nil
	}); err != nil {
		return err
	}

	if err := register("readv", true, func(args []string, body []byte) (*Response, error) {
		if len(args) != 1 {
			return nil, errWrongArgCount("readv")
		}
		offsets, err := DeserializeOffsets(body)
		if err != nil {
			return nil, err
		}
		segments, err := backing.Readv(args[0], offsets)
		if err != nil {
			return nil, err
		}
		return SuccessResponseWithChunks(segments, "readv"), nil
	}); err != nil {
		return err
	}

	if err := register("mkdir", false, func(args []string, body []byte) (*Response, error) {
		if len(args) != 1 {
			return nil, errWrongArgCount("mkdir")
		}
		if err := backing.Mkdir(args[0]); err != nil {
			return nil, err
		}
		return SuccessResponse("ok"), nil
	}); err != nil {
		return err
	}

	if err := register("delete", false, func(args []string, body []byte) (*Response, error) {
		if len(args) != 1 {
			return nil, errWrongArgCount("delete")
		}
		if err := backing.Delete(args[0]); err != nil {
			return nil, err
		}
		return SuccessResponse("ok"), nil
	}); err != nil {
		return err
	}

	if err := register("rmdir", false, func(args []string, body []byte) (*Response, error) {
		if len(args) != 1 {
			return nil, errWrongArgCount("rmdir")
		}
		if err := backing.Rmdir(args[0]); err != nil {
			return nil, err
		}
		return SuccessResponse("ok"), nil
	}); err != nil {
		return err
	}

	if err := register("move", false, func(args []string, body []byte) (*Response, error) {
		if len(args) != 2 {
			return nil, errWrongArgCount("move")
		}
		if err := backing.Move(args[0], args[1]); err != nil {
			return nil, err
		}
		return SuccessResponse("ok"), nil
	}); err != nil {
		return err
	}

	if err := register("rename", false, func(args []string, body []byte) (*Response, error) {
		if len(args) != 2 {
			return nil, errWrongArgCount("rename")
		}
		if err := backing.Rename(args[0], args[1]); err != nil {
			return nil, err
		}
		return SuccessResponse("ok"), nil
	}); err != nil {
		return err
	}

	if err := register("copy", false, func(args []string, body []byte) (*Response, error) {
		if len(args) != 2 {
			return nil, errWrongArgCount("copy")
		}
		if err := backing.Copy(args[0], args[1]); err != nil {
			return nil, err
		}
		return SuccessResponse("ok"), nil
	}); err != nil {
		return err
	}

	if err := register("list_dir", false, func(args []string, body []byte) (*Response, error) {
		if len(args) != 1 {
			return nil, errWrongArgCount("list_dir")
		}
		names, err := backing.ListDir(args[0])
		if err != nil {
			return nil, err
		}
		return SuccessResponse(append([]string{"names"}, names...)...), nil
	}); err != nil {
		return err
	}

	if err := register("iter_files_recursive", false, func(args []string, body []byte) (*Response, error) {
		if len(args) != 1 {
			return nil, errWrongArgCount("iter_files_recursive")
		}
		names, err := backing.IterFilesRecursive(args[0])
		if err != nil {
			return nil, err
		}
		return SuccessResponse(append([]string{"names"}, names...)...), nil
	}); err != nil {
		return err
	}

	if err := register("stat", false, func(args []string, body []byte) (*Response, error) {
		if len(args) != 1 {
			return nil, errWrongArgCount("stat")
		}
		stat, err := backing.Stat(args[0])
		if err != nil {
			return nil, err
		}
		return SuccessResponse("stat", fmt.Sprintf("%d", stat.Size), fmt.Sprintf("%o", stat.Mode&0777)), nil
	}); err != nil {
		return err
	}

	return nil
}

// NewDefaultRegistry builds a registry with the hello command and the file
// access commands over the specified transport.
func NewDefaultRegistry(backing transport.Transport, logger *logging.Logger) (*Registry, error) {
	registry := NewRegistry(logger)
	if err := RegisterHello(registry); err != nil {
		return nil, err
	}
	if err := RegisterVFS(registry, backing); err != nil {
		return nil, err
	}
	return registry, nil
}
