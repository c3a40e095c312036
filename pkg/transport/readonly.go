package transport

// ReadOnly wraps a transport, rejecting every mutating operation with a
// NotPossibleError while delegating reads.
type ReadOnly struct {
	// backing is the underlying transport.
	backing Transport
}

// NewReadOnly creates a read-only view of the specified transport.
func NewReadOnly(backing Transport) *ReadOnly {
	return &ReadOnly{backing: backing}
}

// Has implements Transport.Has.
func (t *ReadOnly) Has(path string) (bool, error) {
	return t.backing.Has(path)
}

// Get implements Transport.Get.
func (t *ReadOnly) Get(path string) ([]byte, error) {
	return t.backing.Get(path)
}

// Put implements Transport.Put.
func (t *ReadOnly) Put(path string, content []byte) error {
	return &NotPossibleError{Operation: "put"}
}

// Append implements Transport.Append.
func (t *ReadOnly) Append(path string, content []byte) (int64, error) {
	return 0, &NotPossibleError{Operation: "append"}
}

// Readv implements Transport.Readv.
func (t *ReadOnly) Readv(path string, offsets []Offset) ([][]byte, error) {
	return t.backing.Readv(path, offsets)
}

// Mkdir implements Transport.Mkdir.
func (t *ReadOnly) Mkdir(path string) error {
	return &NotPossibleError{Operation: "mkdir"}
}

// Delete implements Transport.Delete.
func (t *ReadOnly) Delete(path string) error {
	return &NotPossibleError{Operation: "delete"}
}

// Rmdir implements Transport.Rmdir.
func (t *ReadOnly) Rmdir(path string) error {
	return &NotPossibleError{Operation: "rmdir"}
}

// Move implements Transport.Move.
func (t *ReadOnly) Move(source, target string) error {
	return &NotPossibleError{Operation: "move"}
}

// Rename implements Transport.Rename.
func (t *ReadOnly) Rename(source, target string) error {
	return &NotPossibleError{Operation: "rename"}
}

// Copy implements Transport.Copy.
func (t *ReadOnly) Copy(source, target string) error {
	return &NotPossibleError{Operation: "copy"}
}

// ListDir implements Transport.ListDir.
func (t *ReadOnly) ListDir(path string) ([]string, error) {
	return t.backing.ListDir(path)
}

// IterFilesRecursive implements Transport.IterFilesRecursive.
func (t *ReadOnly) IterFilesRecursive(path string) ([]string, error) {
	return t.backing.IterFilesRecursive(path)
}

// Stat implements Transport.Stat.
func (t *ReadOnly) Stat(path string) (Stat, error) {
	return t.backing.Stat(path)
}
