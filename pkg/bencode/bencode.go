// Package bencode provides the structured encoding used by version three of
// the smart protocol for headers and structure message parts. The heavy
// lifting is delegated to github.com/zeebo/bencode; this package pins down the
// decoded representation (strings, int64, []interface{}, and
// map[string]interface{}) that the protocol layer relies on.
package bencode

import (
	"github.com/pkg/errors"
	"github.com/zeebo/bencode"
)

// Encode serializes a value to its bencoded form. Supported values are
// strings, byte slices, integers, slices, and string-keyed maps.
func Encode(value interface{}) ([]byte, error) {
	encoded, err := bencode.EncodeBytes(value)
	if err != nil {
		return nil, errors.Wrap(err, "unable to bencode value")
	}
	return encoded, nil
}

// Decode parses bencoded data into a generic value tree: string, int64,
// []interface{}, or map[string]interface{}. Trailing garbage is rejected.
func Decode(data []byte) (interface{}, error) {
	var value interface{}
	if err := bencode.DecodeBytes(data, &value); err != nil {
		return nil, errors.Wrap(err, "unable to decode bencoded value")
	}
	return value, nil
}

// DecodeStringList parses bencoded data that is expected to be a flat list of
// strings, the representation of argument tuples in protocol version three.
func DecodeStringList(data []byte) ([]string, error) {
	value, err := Decode(data)
	if err != nil {
		return nil, err
	}
	list, ok := value.([]interface{})
	if !ok {
		return nil, errors.Errorf("expected bencoded list, got %T", value)
	}
	result := make([]string, len(list))
	for i, element := range list {
		element, ok := element.(string)
		if !ok {
			return nil, errors.Errorf("expected bencoded string at index %d, got %T", i, list[i])
		}
		result[i] = element
	}
	return result, nil
}

// DecodeStringMap parses bencoded data that is expected to be a dictionary
// with string values, the representation of protocol version three headers.
func DecodeStringMap(data []byte) (map[string]string, error) {
	value, err := Decode(data)
	if err != nil {
		return nil, err
	}
	mapping, ok := value.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("expected bencoded dictionary, got %T", value)
	}
	result := make(map[string]string, len(mapping))
	for key, element := range mapping {
		element, ok := element.(string)
		if !ok {
			return nil, errors.Errorf("expected bencoded string for key %q, got %T", key, mapping[key])
		}
		result[key] = element
	}
	return result, nil
}
