package request

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/transport"
)

// SerializeOffsets encodes readv offsets as the request body wire form: one
// "start,length" pair per line, newline separated.
func SerializeOffsets(offsets []transport.Offset) []byte {
	pairs := make([]string, len(offsets))
	for o, offset := range offsets {
		pairs[o] = fmt.Sprintf("%d,%d", offset.Start, offset.Length)
	}
	return []byte(strings.Join(pairs, "\n"))
}

// DeserializeOffsets decodes the readv offset wire form.
func DeserializeOffsets(data []byte) ([]transport.Offset, error) {
	if len(data) == 0 {
		return nil, nil
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	offsets := make([]transport.Offset, 0, len(lines))
	for _, line := range lines {
		comma := strings.IndexByte(line, ',')
		if comma < 0 {
			return nil, errors.Errorf("malformed readv offset %q", line)
		}
		start, err := strconv.ParseInt(line[:comma], 10, 64)
		if err != nil {
			return nil, errors.Errorf("malformed readv offset %q", line)
		}
		length, err := strconv.ParseInt(line[comma+1:], 10, 64)
		if err != nil {
			return nil, errors.Errorf("malformed readv offset %q", line)
		}
		offsets = append(offsets, transport.Offset{Start: start, Length: length})
	}
	return offsets, nil
}
