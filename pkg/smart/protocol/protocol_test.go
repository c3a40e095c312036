package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/mrod0101/bazaar/pkg/smart/request"
	"github.com/mrod0101/bazaar/pkg/transport"
)

// makeRegistry builds a default registry over a fresh in-memory transport.
func makeRegistry(t *testing.T) (*request.Registry, *transport.MemoryTransport) {
	backing := transport.NewMemoryTransport()
	registry, err := request.NewDefaultRegistry(backing, nil)
	if err != nil {
		t.Fatal(err)
	}
	return registry, backing
}

// TestDetectRequestVersion tests version detection, including ambiguous
// marker prefixes.
func TestDetectRequestVersion(t *testing.T) {
	tests := []struct {
		data     string
		version  int
		consumed int
		ready    bool
	}{
		{"", 1, 0, true},
		{"hello\n", 1, 0, true},
		{"bzr request 2\nhello\n", 2, len(RequestVersionTwo), true},
		{"bzr message 3 (bzr 1.3)\nrest", 3, len(MessageVersionThree), true},
		{"bzr re", 0, 0, false},
		{"bzr message 3 ", 0, 0, false},
		{"bzr nonsense\n", 1, 0, true},
	}
	for _, test := range tests {
		version, consumed, ready := DetectRequestVersion([]byte(test.data))
		if version != test.version || consumed != test.consumed || ready != test.ready {
			t.Errorf(
				"detection of %q: got (%d, %d, %v), expected (%d, %d, %v)",
				test.data,
				version, consumed, ready,
				test.version, test.consumed, test.ready,
			)
		}
	}
}

// TestLengthPrefixedBodyDecoder tests length-prefixed body decoding,
// including read size hints and excess preservation.
func TestLengthPrefixedBodyDecoder(t *testing.T) {
	decoder := NewLengthPrefixedBodyDecoder()
	if size := decoder.NextReadSize(); size != 6 {
		t.Errorf("unexpected initial read size: %d", size)
	}
	if err := decoder.Accept([]byte("7\ncont")); err != nil {
		t.Fatal(err)
	}
	if size := decoder.NextReadSize(); size != 3+5 {
		t.Errorf("unexpected mid-content read size: %d", size)
	}
	if err := decoder.Accept([]byte("entdone\nexcess")); err != nil {
		t.Fatal(err)
	}
	if !decoder.Finished() {
		t.Fatal("decoder should be finished")
	}
	if content := decoder.ReadPending(); string(content) != "content" {
		t.Errorf("unexpected content: %q", content)
	}
	if unused := decoder.Unused(); string(unused) != "excess" {
		t.Errorf("unexpected excess: %q", unused)
	}
}

// TestLengthPrefixedBodyDecoderByteAtATime tests that byte-at-a-time feeding
// decodes identically to a single feed.
func TestLengthPrefixedBodyDecoderByteAtATime(t *testing.T) {
	encoded := encodeLengthPrefixedBody([]byte("some content"))
	decoder := NewLengthPrefixedBodyDecoder()
	var content []byte
	for _, b := range encoded {
		if err := decoder.Accept([]byte{b}); err != nil {
			t.Fatal(err)
		}
		content = append(content, decoder.ReadPending()...)
	}
	if !decoder.Finished() || string(content) != "some content" {
		t.Errorf("unexpected content: %q", content)
	}
}

// TestLengthPrefixedBodyDecoderMalformed tests trailer validation.
func TestLengthPrefixedBodyDecoderMalformed(t *testing.T) {
	decoder := NewLengthPrefixedBodyDecoder()
	if err := decoder.Accept([]byte("3\nabcdonX\n")); err == nil {
		t.Error("expected malformed trailer rejection")
	}
	decoder = NewLengthPrefixedBodyDecoder()
	if err := decoder.Accept([]byte("abc\n")); err == nil {
		t.Error("expected malformed length rejection")
	}
}

// TestChunkedBodyDecoder tests chunked body decoding.
func TestChunkedBodyDecoder(t *testing.T) {
	decoder := NewChunkedBodyDecoder()
	if size := decoder.NextReadSize(); size != 8 {
		t.Errorf("unexpected initial read size: %d", size)
	}
	if err := decoder.Accept([]byte("chunked\n5\nfirst6\nsecondEND\nrest")); err != nil {
		t.Fatal(err)
	}
	if !decoder.Finished() || decoder.Error() {
		t.Fatal("decoder should have finished cleanly")
	}
	var chunks []string
	for {
		chunk, ok := decoder.NextChunk()
		if !ok {
			break
		}
		chunks = append(chunks, string(chunk))
	}
	if len(chunks) != 2 || chunks[0] != "first" || chunks[1] != "second" {
		t.Errorf("unexpected chunks: %v", chunks)
	}
	if unused := decoder.Unused(); string(unused) != "rest" {
		t.Errorf("unexpected excess: %q", unused)
	}
}

// TestChunkedBodyRoundTrip tests that decoding an encoded chunk list yields
// the original list, including zero-length chunks and the empty list.
func TestChunkedBodyRoundTrip(t *testing.T) {
	var tests = [][]string{
		{},
		{""},
		{"single"},
		{"", "between", ""},
		{"first", "", "third"},
		{"a", "b", "c", "d"},
	}
	for _, chunks := range tests {
		encoded := encodeChunkedBody(stringChunks(chunks))
		decoder := NewChunkedBodyDecoder()
		// Feed byte-at-a-time to exercise every partial state.
		for b := range encoded {
			if err := decoder.Accept(encoded[b : b+1]); err != nil {
				t.Fatalf("%q: decode failed: %v", chunks, err)
			}
		}
		if !decoder.Finished() {
			t.Errorf("%q: decoder not finished", chunks)
		}
		if decoder.Error() {
			t.Errorf("%q: unexpected error termination", chunks)
		}
		var decoded []string
		for {
			chunk, ok := decoder.NextChunk()
			if !ok {
				break
			}
			decoded = append(decoded, string(chunk))
		}
		if len(decoded) != len(chunks) {
			t.Errorf("%q: decoded %q", chunks, decoded)
			continue
		}
		for c := range chunks {
			if decoded[c] != chunks[c] {
				t.Errorf("%q: chunk %d decoded as %q", chunks, c, decoded[c])
			}
		}
	}
}

// stringChunks converts a chunk list to its byte form.
func stringChunks(chunks []string) [][]byte {
	converted := make([][]byte, len(chunks))
	for c, chunk := range chunks {
		converted[c] = []byte(chunk)
	}
	return converted
}

// TestChunkedBodyDecoderError tests in-band error termination.
func TestChunkedBodyDecoderError(t *testing.T) {
	decoder := NewChunkedBodyDecoder()
	if err := decoder.Accept([]byte("chunked\n3\nokaERR\n5\nerror7\ndetailsEND\n")); err != nil {
		t.Fatal(err)
	}
	if !decoder.Finished() || !decoder.Error() {
		t.Fatal("decoder should have finished with an error")
	}
	if chunk, ok := decoder.NextChunk(); !ok || string(chunk) != "oka" {
		t.Errorf("unexpected chunk before error: %q", chunk)
	}
	args := decoder.ErrorArgs()
	if len(args) != 2 || args[0] != "error" || args[1] != "details" {
		t.Errorf("unexpected error args: %v", args)
	}
}

// collectingWriter accumulates server protocol output.
type collectingWriter struct {
	output bytes.Buffer
}

// write appends to the collected output.
func (w *collectingWriter) write(data []byte) error {
	_, err := w.output.Write(data)
	return err
}

// TestServerProtocolOne tests version one request serving, including the
// exact bad request failure line.
func TestServerProtocolOne(t *testing.T) {
	registry, _ := makeRegistry(t)

	output := &collectingWriter{}
	server := NewServerProtocolOne(registry, output.write, nil)
	if err := server.AcceptBytes([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	if server.NextReadSize() != 0 {
		t.Error("request should be complete")
	}
	if output.output.String() != "ok\x013\n" {
		t.Errorf("unexpected hello response: %q", output.output.String())
	}

	output = &collectingWriter{}
	server = NewServerProtocolOne(registry, output.write, nil)
	if err := server.AcceptBytes([]byte("abc\n")); err != nil {
		t.Fatal(err)
	}
	expected := "error\x01Generic bzr smart protocol error: bad request 'abc'\n"
	if output.output.String() != expected {
		t.Errorf("unexpected bad request response: %q", output.output.String())
	}
}

// TestServerProtocolOneBody tests request body decoding and response bodies.
func TestServerProtocolOneBody(t *testing.T) {
	registry, backing := makeRegistry(t)

	output := &collectingWriter{}
	server := NewServerProtocolOne(registry, output.write, nil)
	if err := server.AcceptBytes([]byte("put\x01file\n8\ncontentsdone\n")); err != nil {
		t.Fatal(err)
	}
	if output.output.String() != "ok\n" {
		t.Fatalf("unexpected put response: %q", output.output.String())
	}
	if content, err := backing.Get("file"); err != nil || string(content) != "contents" {
		t.Fatalf("unexpected stored content: %q, %v", content, err)
	}

	output = &collectingWriter{}
	server = NewServerProtocolOne(registry, output.write, nil)
	if err := server.AcceptBytes([]byte("get\x01file\n")); err != nil {
		t.Fatal(err)
	}
	if output.output.String() != "ok\n8\ncontentsdone\n" {
		t.Errorf("unexpected get response: %q", output.output.String())
	}
}

// TestServerProtocolOneByteAtATime tests that byte-at-a-time feeding produces
// the same response as a single feed.
func TestServerProtocolOneByteAtATime(t *testing.T) {
	registry, backing := makeRegistry(t)
	if err := backing.Put("file", []byte("contents")); err != nil {
		t.Fatal(err)
	}

	input := []byte("get\x01file\n")
	output := &collectingWriter{}
	server := NewServerProtocolOne(registry, output.write, nil)
	for _, b := range input {
		if err := server.AcceptBytes([]byte{b}); err != nil {
			t.Fatal(err)
		}
	}
	if output.output.String() != "ok\n8\ncontentsdone\n" {
		t.Errorf("unexpected response: %q", output.output.String())
	}
}

// TestServerProtocolOneExcess tests that bytes beyond the request are
// preserved for the next request.
func TestServerProtocolOneExcess(t *testing.T) {
	registry, _ := makeRegistry(t)
	output := &collectingWriter{}
	server := NewServerProtocolOne(registry, output.write, nil)
	if err := server.AcceptBytes([]byte("hello\nhello\n")); err != nil {
		t.Fatal(err)
	}
	if string(server.UnusedData()) != "hello\n" {
		t.Errorf("unexpected excess: %q", server.UnusedData())
	}
}

// TestServerProtocolTwo tests version two response framing.
func TestServerProtocolTwo(t *testing.T) {
	registry, _ := makeRegistry(t)

	output := &collectingWriter{}
	server := NewServerProtocolTwo(registry, output.write, nil)
	if err := server.AcceptBytes([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	if output.output.String() != "bzr response 2\nsuccess\nok\x013\n" {
		t.Errorf("unexpected hello response: %q", output.output.String())
	}

	output = &collectingWriter{}
	server = NewServerProtocolTwo(registry, output.write, nil)
	if err := server.AcceptBytes([]byte("abc\n")); err != nil {
		t.Fatal(err)
	}
	expected := "bzr response 2\nfailed\n" +
		"error\x01Generic bzr smart protocol error: bad request 'abc'\n"
	if output.output.String() != expected {
		t.Errorf("unexpected bad request response: %q", output.output.String())
	}
}

// TestServerProtocolTwoChunkedStream tests chunked encoding of streamed
// response bodies.
func TestServerProtocolTwoChunkedStream(t *testing.T) {
	registry := request.NewRegistry(nil)
	if err := registry.Register("stream", false, func(args []string, body []byte) (*request.Response, error) {
		response := request.SuccessResponse("ok")
		response.BodyStream = bytes.NewReader([]byte("streamed content"))
		return response, nil
	}); err != nil {
		t.Fatal(err)
	}

	output := &collectingWriter{}
	server := NewServerProtocolTwo(registry, output.write, nil)
	if err := server.AcceptBytes([]byte("stream\n")); err != nil {
		t.Fatal(err)
	}
	expected := "bzr response 2\nsuccess\nok\nchunked\n10\nstreamed contentEND\n"
	if output.output.String() != expected {
		t.Errorf("unexpected streamed response: %q", output.output.String())
	}
}

// TestServerProtocolTwoChunkedBody tests that chunk boundaries of a chunked
// response body survive encoding, including zero-length chunks.
func TestServerProtocolTwoChunkedBody(t *testing.T) {
	registry := request.NewRegistry(nil)
	if err := registry.Register("chunks", false, func(args []string, body []byte) (*request.Response, error) {
		return request.SuccessResponseWithChunks([][]byte{[]byte("ab"), {}, []byte("c")}, "ok"), nil
	}); err != nil {
		t.Fatal(err)
	}

	output := &collectingWriter{}
	server := NewServerProtocolTwo(registry, output.write, nil)
	if err := server.AcceptBytes([]byte("chunks\n")); err != nil {
		t.Fatal(err)
	}
	expected := "bzr response 2\nsuccess\nok\nchunked\n2\nab0\n1\ncEND\n"
	if output.output.String() != expected {
		t.Errorf("unexpected chunked response: %q", output.output.String())
	}
}

// TestVersionThreeCallEncoding tests the exact byte encoding of a version
// three request message.
func TestVersionThreeCallEncoding(t *testing.T) {
	medium := newLoopbackMedium(request.NewRegistry(nil))
	client := NewClientProtocolThree(medium)
	client.headers = map[string]string{"header name": "header value"}
	if err := client.Call("one arg"); err != nil {
		t.Fatal(err)
	}
	expected := "bzr message 3 (bzr 1.3)\n" +
		"\x00\x00\x00\x1fd11:header name12:header valuee" +
		"s\x00\x00\x00\x0bl7:one arge" +
		"e"
	if medium.written.String() != expected {
		t.Errorf("unexpected encoding: %q", medium.written.String())
	}
}

// TestProtocolThreeDecoderByteAtATime tests that byte-at-a-time feeding
// decodes a message identically to a single feed.
func TestProtocolThreeDecoderByteAtATime(t *testing.T) {
	medium := newLoopbackMedium(request.NewRegistry(nil))
	client := NewClientProtocolThree(medium)
	if err := client.CallWithBodyBytes([]byte("body bytes"), "cmd", "arg"); err != nil {
		t.Fatal(err)
	}
	message := medium.written.Bytes()[len(MessageVersionThree):]

	handler := &clientMessageHandler{}
	decoder := NewProtocolThreeDecoder(handler)
	for _, b := range message {
		if err := decoder.AcceptBytes([]byte{b}); err != nil {
			t.Fatal(err)
		}
	}
	if !decoder.Finished() || !handler.ended {
		t.Fatal("decoder should have finished")
	}
	if len(handler.args) != 2 || handler.args[0] != "cmd" || handler.args[1] != "arg" {
		t.Errorf("unexpected args: %v", handler.args)
	}
	if string(handler.body) != "body bytes" {
		t.Errorf("unexpected body: %q", handler.body)
	}
}

// loopbackMedium is a medium request that serves its written request against
// a registry when writing finishes, making responses available for reading.
type loopbackMedium struct {
	// registry dispatches commands.
	registry *request.Registry
	// written accumulates the request.
	written bytes.Buffer
	// response holds the pending response.
	response bytes.Buffer
	// finishedReading indicates that FinishReading was called.
	finishedReading bool
}

// newLoopbackMedium creates a loopback medium over a registry.
func newLoopbackMedium(registry *request.Registry) *loopbackMedium {
	return &loopbackMedium{registry: registry}
}

// Write implements io.Writer.
func (m *loopbackMedium) Write(data []byte) (int, error) {
	return m.written.Write(data)
}

// FinishWriting implements MediumRequest.FinishWriting by serving the
// request.
func (m *loopbackMedium) FinishWriting() error {
	data := m.written.Bytes()
	version, consumed, ready := DetectRequestVersion(data)
	if !ready {
		return io.ErrUnexpectedEOF
	}
	var server ServerProtocol
	write := func(out []byte) error {
		_, err := m.response.Write(out)
		return err
	}
	switch version {
	case 1:
		server = NewServerProtocolOne(m.registry, write, nil)
	case 2:
		server = NewServerProtocolTwo(m.registry, write, nil)
	case 3:
		server = NewServerProtocolThree(m.registry, write, nil, nil)
	}
	return server.AcceptBytes(data[consumed:])
}

// ReadBytes implements MediumRequest.ReadBytes.
func (m *loopbackMedium) ReadBytes(count int) ([]byte, error) {
	if m.response.Len() == 0 {
		return nil, io.EOF
	}
	if count > m.response.Len() {
		count = m.response.Len()
	}
	data := make([]byte, count)
	if _, err := m.response.Read(data); err != nil {
		return nil, err
	}
	return data, nil
}

// ReadLine implements MediumRequest.ReadLine.
func (m *loopbackMedium) ReadLine() ([]byte, error) {
	line, err := m.response.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return line, nil
}

// FinishReading implements MediumRequest.FinishReading.
func (m *loopbackMedium) FinishReading() error {
	m.finishedReading = true
	return nil
}

// TestClientProtocolOneRoundTrip tests a version one exchange end to end.
func TestClientProtocolOneRoundTrip(t *testing.T) {
	registry, backing := makeRegistry(t)
	if err := backing.Put("file", []byte("contents")); err != nil {
		t.Fatal(err)
	}

	client := NewClientProtocolOne(newLoopbackMedium(registry))
	if err := client.Call("get", "file"); err != nil {
		t.Fatal(err)
	}
	args, err := client.ReadResponseTuple(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 1 || args[0] != "ok" {
		t.Fatalf("unexpected response tuple: %v", args)
	}
	body, err := client.ReadBodyBytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "contents" {
		t.Errorf("unexpected body: %q", body)
	}
	if _, err := client.ReadBodyBytes(); err != ErrReadingCompleted {
		t.Errorf("unexpected error after completion: %v", err)
	}
}

// TestClientProtocolOneCancelReadBody tests that an abandoned body read
// blocks later reads.
func TestClientProtocolOneCancelReadBody(t *testing.T) {
	registry, backing := makeRegistry(t)
	if err := backing.Put("file", []byte("contents")); err != nil {
		t.Fatal(err)
	}

	client := NewClientProtocolOne(newLoopbackMedium(registry))
	if err := client.Call("get", "file"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ReadResponseTuple(true); err != nil {
		t.Fatal(err)
	}
	if err := client.CancelReadBody(); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ReadBodyBytes(); err != ErrReadingCompleted {
		t.Errorf("unexpected error after cancellation: %v", err)
	}
}

// TestClientProtocolTwoRoundTrip tests a version two exchange end to end,
// including failure surfacing.
func TestClientProtocolTwoRoundTrip(t *testing.T) {
	registry, backing := makeRegistry(t)
	if err := backing.Put("file", []byte("contents")); err != nil {
		t.Fatal(err)
	}

	client := NewClientProtocolTwo(newLoopbackMedium(registry))
	if err := client.Call("get", "file"); err != nil {
		t.Fatal(err)
	}
	args, err := client.ReadResponseTuple(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 1 || args[0] != "ok" {
		t.Fatalf("unexpected response tuple: %v", args)
	}
	body, err := client.ReadBodyBytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "contents" {
		t.Errorf("unexpected body: %q", body)
	}

	client = NewClientProtocolTwo(newLoopbackMedium(registry))
	if err := client.Call("get", "missing"); err != nil {
		t.Fatal(err)
	}
	_, err = client.ReadResponseTuple(true)
	serverErr, ok := err.(*ErrorFromSmartServer)
	if !ok || serverErr.Args[0] != "NoSuchFile" {
		t.Errorf("unexpected failure: %v", err)
	}
}

// TestClientProtocolTwoStreamedBody tests chunked body streaming on the
// client side.
func TestClientProtocolTwoStreamedBody(t *testing.T) {
	registry := request.NewRegistry(nil)
	if err := registry.Register("stream", false, func(args []string, body []byte) (*request.Response, error) {
		response := request.SuccessResponse("ok")
		response.BodyStream = bytes.NewReader([]byte("streamed content"))
		return response, nil
	}); err != nil {
		t.Fatal(err)
	}

	client := NewClientProtocolTwo(newLoopbackMedium(registry))
	if err := client.Call("stream"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ReadResponseTuple(true); err != nil {
		t.Fatal(err)
	}
	var body []byte
	for {
		chunk, err := client.NextBodyChunk()
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		body = append(body, chunk...)
	}
	if string(body) != "streamed content" {
		t.Errorf("unexpected body: %q", body)
	}
}

// TestClientProtocolThreeRoundTrip tests a version three exchange end to end.
func TestClientProtocolThreeRoundTrip(t *testing.T) {
	registry, _ := makeRegistry(t)

	client := NewClientProtocolThree(newLoopbackMedium(registry))
	if err := client.CallWithBodyBytes([]byte("contents"), "put", "file"); err != nil {
		t.Fatal(err)
	}
	args, err := client.ReadResponseTuple(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 1 || args[0] != "ok" {
		t.Fatalf("unexpected response tuple: %v", args)
	}

	client = NewClientProtocolThree(newLoopbackMedium(registry))
	if err := client.Call("get", "file"); err != nil {
		t.Fatal(err)
	}
	args, err = client.ReadResponseTuple(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 1 || args[0] != "ok" {
		t.Fatalf("unexpected response tuple: %v", args)
	}
	body, err := client.ReadBodyBytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "contents" {
		t.Errorf("unexpected body: %q", body)
	}
}

// TestClientProtocolThreeError tests version three failure surfacing.
func TestClientProtocolThreeError(t *testing.T) {
	registry, _ := makeRegistry(t)

	client := NewClientProtocolThree(newLoopbackMedium(registry))
	if err := client.Call("get", "missing"); err != nil {
		t.Fatal(err)
	}
	_, err := client.ReadResponseTuple(true)
	serverErr, ok := err.(*ErrorFromSmartServer)
	if !ok || serverErr.Args[0] != "NoSuchFile" || serverErr.Args[1] != "missing" {
		t.Errorf("unexpected failure: %v", err)
	}
}

// TestClientProtocolThreeReadv tests a readv exchange through the version
// three encoding.
func TestClientProtocolThreeReadv(t *testing.T) {
	registry, backing := makeRegistry(t)
	if err := backing.Put("file", []byte("0123456789")); err != nil {
		t.Fatal(err)
	}

	client := NewClientProtocolThree(newLoopbackMedium(registry))
	offsets := []transport.Offset{{Start: 7, Length: 2}, {Start: 0, Length: 3}}
	if err := client.CallWithReadv(offsets, "readv", "file"); err != nil {
		t.Fatal(err)
	}
	args, err := client.ReadResponseTuple(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 1 || args[0] != "readv" {
		t.Fatalf("unexpected response tuple: %v", args)
	}
	body, err := client.ReadBodyBytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "78012" {
		t.Errorf("unexpected body: %q", body)
	}
}
