// Package rio implements the key-value stanza format used to persist conflict
// bookkeeping alongside a working tree. A stanza is an ordered sequence of
// "name: value" lines, with multi-line values continued on lines prefixed by a
// tab, and stanzas separated from one another by a single blank line. The
// format round-trips byte-exactly.
package rio

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedStanza indicates that stanza text could not be parsed.
var ErrMalformedStanza = errors.New("malformed stanza")

// pair is a single name/value entry within a stanza.
type pair struct {
	name  string
	value string
}

// Stanza is an ordered multimap of names to values.
type Stanza struct {
	pairs []pair
}

// NewStanza creates an empty stanza.
func NewStanza() *Stanza {
	return &Stanza{}
}

// Add appends a name/value pair to the stanza. Names must be non-empty and
// must not contain whitespace or colons.
func (s *Stanza) Add(name, value string) {
	s.pairs = append(s.pairs, pair{name: name, value: value})
}

// Get returns the first value recorded for the specified name and whether any
// value was present.
func (s *Stanza) Get(name string) (string, bool) {
	for _, p := range s.pairs {
		if p.name == name {
			return p.value, true
		}
	}
	return "", false
}

// Names returns the stanza's names in recorded order.
func (s *Stanza) Names() []string {
	names := make([]string, len(s.pairs))
	for i, p := range s.pairs {
		names[i] = p.name
	}
	return names
}

// Len returns the number of pairs in the stanza.
func (s *Stanza) Len() int {
	return len(s.pairs)
}

// Equal returns true if both stanzas hold the same pairs in the same order.
func (s *Stanza) Equal(other *Stanza) bool {
	if len(s.pairs) != len(other.pairs) {
		return false
	}
	for i, p := range s.pairs {
		if other.pairs[i] != p {
			return false
		}
	}
	return true
}

// Encode serializes the stanza. Values containing newlines are continued on
// tab-prefixed lines.
func (s *Stanza) Encode() []byte {
	var buffer bytes.Buffer
	for _, p := range s.pairs {
		buffer.WriteString(p.name)
		buffer.WriteString(": ")
		lines := strings.Split(p.value, "\n")
		for i, line := range lines {
			if i > 0 {
				buffer.WriteString("\t")
			}
			buffer.WriteString(line)
			buffer.WriteString("\n")
		}
	}
	return buffer.Bytes()
}

// ReadStanza parses a single stanza from the reader, stopping at a blank line
// or EOF. It returns nil (and no error) if the reader is exhausted before any
// pair is read.
func ReadStanza(reader *bufio.Reader) (*Stanza, error) {
	stanza := NewStanza()
	var haveAny bool
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF && line == "" {
			break
		} else if err != nil && err != io.EOF {
			return nil, err
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			break
		}
		if line[0] == '\t' {
			// Continuation of the previous value.
			if len(stanza.pairs) == 0 {
				return nil, errors.Wrap(ErrMalformedStanza,
					"continuation line without a preceding pair")
			}
			last := &stanza.pairs[len(stanza.pairs)-1]
			last.value += "\n" + line[1:]
			continue
		}
		index := strings.Index(line, ": ")
		if index < 1 {
			return nil, errors.Wrapf(ErrMalformedStanza, "bad line %q", line)
		}
		stanza.Add(line[:index], line[index+2:])
		haveAny = true
		if err == io.EOF {
			break
		}
	}
	if !haveAny {
		return nil, nil
	}
	return stanza, nil
}

// ReadStanzas parses all stanzas from the supplied text.
func ReadStanzas(data []byte) ([]*Stanza, error) {
	reader := bufio.NewReader(bytes.NewReader(data))
	var stanzas []*Stanza
	for {
		stanza, err := ReadStanza(reader)
		if err != nil {
			return nil, err
		}
		if stanza == nil {
			return stanzas, nil
		}
		stanzas = append(stanzas, stanza)
	}
}

// WriteStanzas serializes a sequence of stanzas, separating them with blank
// lines.
func WriteStanzas(stanzas []*Stanza) []byte {
	var buffer bytes.Buffer
	for i, stanza := range stanzas {
		if i > 0 {
			buffer.WriteString("\n")
		}
		buffer.Write(stanza.Encode())
	}
	return buffer.Bytes()
}
