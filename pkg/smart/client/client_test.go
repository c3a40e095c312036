package client

import (
	"bytes"
	"testing"

	"github.com/mrod0101/bazaar/pkg/smart/medium"
	"github.com/mrod0101/bazaar/pkg/smart/server"
	"github.com/mrod0101/bazaar/pkg/transport"
)

// startServer starts a smart server over a fresh in-memory transport and
// returns a connected client.
func startServer(t *testing.T, readOnly bool) (*Client, *transport.MemoryTransport) {
	backing := transport.NewMemoryTransport()
	smartServer, err := server.New("localhost:0", backing, readOnly, nil)
	if err != nil {
		t.Fatal(err)
	}
	smartServer.Start()
	t.Cleanup(func() {
		smartServer.Stop()
	})

	client := New(medium.NewTCPClientMedium(smartServer.Addr().String()), nil)
	t.Cleanup(func() {
		client.Close()
	})
	return client, backing
}

// TestQueryVersion tests version negotiation and memoization.
func TestQueryVersion(t *testing.T) {
	client, _ := startServer(t, false)
	version, err := client.QueryVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 3 {
		t.Errorf("unexpected negotiated version: %d", version)
	}
	if again, err := client.QueryVersion(); err != nil || again != version {
		t.Errorf("renegotiation changed version: %d, %v", again, err)
	}
}

// TestRemoteTransportRoundTrip tests the remote transport against a live
// server.
func TestRemoteTransportRoundTrip(t *testing.T) {
	client, _ := startServer(t, false)
	remote := NewRemoteTransport(client)

	if err := remote.Mkdir("dir"); err != nil {
		t.Fatal(err)
	}
	if err := remote.Put("dir/file", []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if present, err := remote.Has("dir/file"); err != nil || !present {
		t.Errorf("file should exist: %v, %v", present, err)
	}
	if content, err := remote.Get("dir/file"); err != nil || !bytes.Equal(content, []byte("0123456789")) {
		t.Errorf("unexpected content: %q, %v", content, err)
	}

	segments, err := remote.Readv("dir/file", []transport.Offset{
		{Start: 7, Length: 2},
		{Start: 0, Length: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 2 || string(segments[0]) != "78" || string(segments[1]) != "012" {
		t.Errorf("unexpected segments: %q", segments)
	}

	stat, err := remote.Stat("dir/file")
	if err != nil {
		t.Fatal(err)
	}
	if stat.Size != 10 {
		t.Errorf("unexpected size: %d", stat.Size)
	}

	names, err := remote.ListDir("dir")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "file" {
		t.Errorf("unexpected names: %v", names)
	}

	if offset, err := remote.Append("dir/file", []byte("more")); err != nil || offset != 10 {
		t.Errorf("unexpected append offset: %d, %v", offset, err)
	}
}

// TestRemoteTransportErrorTranslation tests that failure tuples come back as
// typed transport errors.
func TestRemoteTransportErrorTranslation(t *testing.T) {
	client, _ := startServer(t, false)
	remote := NewRemoteTransport(client)

	_, err := remote.Get("missing")
	noSuchFile, ok := err.(*transport.NoSuchFileError)
	if !ok || noSuchFile.Path != "missing" {
		t.Errorf("unexpected missing file error: %v", err)
	}
}

// TestRemoteTransportReadOnly tests read-only rejection translation.
func TestRemoteTransportReadOnly(t *testing.T) {
	client, backing := startServer(t, true)
	if err := backing.Put("file", []byte("contents")); err != nil {
		t.Fatal(err)
	}
	remote := NewRemoteTransport(client)

	err := remote.Put("file", []byte("overwrite"))
	if _, ok := err.(*transport.NotPossibleError); !ok {
		t.Errorf("unexpected read-only error: %v", err)
	}
	if content, err := remote.Get("file"); err != nil || string(content) != "contents" {
		t.Errorf("reads should still succeed: %q, %v", content, err)
	}
}
