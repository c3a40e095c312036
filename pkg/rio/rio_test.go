package rio

import (
	"bytes"
	"testing"
)

// TestStanzaRoundTrip tests that stanzas survive an encode/decode cycle.
func TestStanzaRoundTrip(t *testing.T) {
	// Set up test cases.
	var tests = []struct {
		description string
		pairs       [][2]string
	}{
		{"single pair", [][2]string{{"path", "foo"}}},
		{"multiple pairs", [][2]string{{"type", "text conflict"}, {"path", "foo"}, {"file_id", "foo-id"}}},
		{"repeated names", [][2]string{{"parent", "a"}, {"parent", "b"}}},
		{"empty value", [][2]string{{"message", ""}}},
		{"multi-line value", [][2]string{{"message", "first\nsecond\nthird"}}},
		{"value with trailing blank line", [][2]string{{"message", "first\n"}}},
		{"unicode value", [][2]string{{"path", "p\xc3\xa5th"}}},
	}

	// Process test cases.
	for _, test := range tests {
		original := NewStanza()
		for _, p := range test.pairs {
			original.Add(p[0], p[1])
		}
		decoded, err := ReadStanzas(original.Encode())
		if err != nil {
			t.Errorf("%s: unable to decode: %v", test.description, err)
			continue
		}
		if len(decoded) != 1 {
			t.Errorf("%s: expected one stanza, got %d", test.description, len(decoded))
			continue
		}
		if !decoded[0].Equal(original) {
			t.Errorf("%s: decoded stanza does not match original: %v != %v",
				test.description, decoded[0], original)
		}
	}
}

// TestStanzasRoundTrip tests multiple stanzas separated by blank lines.
func TestStanzasRoundTrip(t *testing.T) {
	first := NewStanza()
	first.Add("type", "path conflict")
	first.Add("path", "a")
	second := NewStanza()
	second.Add("type", "duplicate")
	second.Add("path", "b.moved")
	second.Add("conflict_path", "b")

	encoded := WriteStanzas([]*Stanza{first, second})
	decoded, err := ReadStanzas(encoded)
	if err != nil {
		t.Fatalf("unable to decode stanzas: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected two stanzas, got %d", len(decoded))
	}
	if !decoded[0].Equal(first) || !decoded[1].Equal(second) {
		t.Error("decoded stanzas do not match originals")
	}
}

// TestStanzaEncoding tests the exact serialized form.
func TestStanzaEncoding(t *testing.T) {
	stanza := NewStanza()
	stanza.Add("path", "foo")
	stanza.Add("message", "line one\nline two")
	expected := "path: foo\nmessage: line one\n\tline two\n"
	if encoded := stanza.Encode(); !bytes.Equal(encoded, []byte(expected)) {
		t.Errorf("unexpected encoding: %q != %q", encoded, expected)
	}
}

// TestMalformedStanza tests that unparseable text is rejected.
func TestMalformedStanza(t *testing.T) {
	for _, text := range []string{"\tcontinuation first\n", "no colon\n"} {
		if _, err := ReadStanzas([]byte(text)); err == nil {
			t.Errorf("expected decode error for %q", text)
		}
	}
}
