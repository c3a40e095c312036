package transport

import (
	"os"
	"path"
	"sort"
	"strings"
)

// MemoryTransport is an in-memory Transport implementation used by tests and
// by servers that want a scratch backing store.
type MemoryTransport struct {
	// files maps relative paths to file contents.
	files map[string][]byte
	// dirs records the set of directories. The root ("") always exists.
	dirs map[string]bool
}

// NewMemoryTransport creates an empty in-memory transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"": true},
	}
}

// normalize cleans a relative path into the canonical internal form.
func normalize(p string) string {
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// parentExists returns true if the parent directory of the path exists.
func (t *MemoryTransport) parentExists(p string) bool {
	parent := path.Dir(p)
	if parent == "." {
		parent = ""
	}
	return t.dirs[parent]
}

// Has implements Transport.Has.
func (t *MemoryTransport) Has(p string) (bool, error) {
	p = normalize(p)
	if _, ok := t.files[p]; ok {
		return true, nil
	}
	return t.dirs[p], nil
}

// Get implements Transport.Get.
func (t *MemoryTransport) Get(p string) ([]byte, error) {
	p = normalize(p)
	content, ok := t.files[p]
	if !ok {
		return nil, &NoSuchFileError{Path: p}
	}
	return append([]byte(nil), content...), nil
}

// Put implements Transport.Put.
func (t *MemoryTransport) Put(p string, content []byte) error {
	p = normalize(p)
	if !t.parentExists(p) {
		return &NoSuchFileError{Path: path.Dir(p)}
	}
	t.files[p] = append([]byte(nil), content...)
	return nil
}

// Append implements Transport.Append.
func (t *MemoryTransport) Append(p string, content []byte) (int64, error) {
	p = normalize(p)
	if !t.parentExists(p) {
		return 0, &NoSuchFileError{Path: path.Dir(p)}
	}
	offset := int64(len(t.files[p]))
	t.files[p] = append(t.files[p], content...)
	return offset, nil
}

// Readv implements Transport.Readv.
func (t *MemoryTransport) Readv(p string, offsets []Offset) ([][]byte, error) {
	content, err := t.Get(p)
	if err != nil {
		return nil, err
	}
	result := make([][]byte, len(offsets))
	for i, offset := range offsets {
		end := offset.Start + offset.Length
		if offset.Start > int64(len(content)) || end > int64(len(content)) {
			actual := int64(len(content)) - offset.Start
			if actual < 0 {
				actual = 0
			}
			return nil, &ShortReadvError{Path: p, Offset: offset, Actual: actual}
		}
		result[i] = content[offset.Start:end]
	}
	return result, nil
}

// Mkdir implements Transport.Mkdir.
func (t *MemoryTransport) Mkdir(p string) error {
	p = normalize(p)
	if t.dirs[p] {
		return &FileExistsError{Path: p}
	}
	if _, ok := t.files[p]; ok {
		return &FileExistsError{Path: p}
	}
	if !t.parentExists(p) {
		return &NoSuchFileError{Path: path.Dir(p)}
	}
	t.dirs[p] = true
	return nil
}

// Delete implements Transport.Delete.
func (t *MemoryTransport) Delete(p string) error {
	p = normalize(p)
	if _, ok := t.files[p]; !ok {
		return &NoSuchFileError{Path: p}
	}
	delete(t.files, p)
	return nil
}

// Rmdir implements Transport.Rmdir.
func (t *MemoryTransport) Rmdir(p string) error {
	p = normalize(p)
	if !t.dirs[p] {
		return &NoSuchFileError{Path: p}
	}
	entries, err := t.ListDir(p)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return &DirectoryNotEmptyError{Path: p}
	}
	delete(t.dirs, p)
	return nil
}

// Move implements Transport.Move.
func (t *MemoryTransport) Move(source, target string) error {
	source = normalize(source)
	target = normalize(target)
	content, ok := t.files[source]
	if !ok {
		return &NoSuchFileError{Path: source}
	}
	if !t.parentExists(target) {
		return &NoSuchFileError{Path: path.Dir(target)}
	}
	delete(t.files, source)
	t.files[target] = content
	return nil
}

// Rename implements Transport.Rename.
func (t *MemoryTransport) Rename(source, target string) error {
	target = normalize(target)
	if _, ok := t.files[target]; ok {
		return &FileExistsError{Path: target}
	}
	if t.dirs[target] {
		return &FileExistsError{Path: target}
	}
	return t.Move(source, target)
}

// Copy implements Transport.Copy.
func (t *MemoryTransport) Copy(source, target string) error {
	content, err := t.Get(source)
	if err != nil {
		return err
	}
	return t.Put(target, content)
}

// ListDir implements Transport.ListDir.
func (t *MemoryTransport) ListDir(p string) ([]string, error) {
	p = normalize(p)
	if !t.dirs[p] {
		if _, ok := t.files[p]; ok {
			return nil, &NotADirectoryError{Path: p}
		}
		return nil, &NoSuchFileError{Path: p}
	}
	prefix := p
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]bool)
	var entries []string
	collect := func(candidate string) {
		if !strings.HasPrefix(candidate, prefix) || candidate == p {
			return
		}
		name := strings.TrimPrefix(candidate, prefix)
		if index := strings.IndexByte(name, '/'); index >= 0 {
			name = name[:index]
		}
		if !seen[name] {
			seen[name] = true
			entries = append(entries, name)
		}
	}
	for candidate := range t.files {
		collect(candidate)
	}
	for candidate := range t.dirs {
		collect(candidate)
	}
	sort.Strings(entries)
	return entries, nil
}

// IterFilesRecursive implements Transport.IterFilesRecursive.
func (t *MemoryTransport) IterFilesRecursive(p string) ([]string, error) {
	p = normalize(p)
	if !t.dirs[p] {
		return nil, &NoSuchFileError{Path: p}
	}
	prefix := p
	if prefix != "" {
		prefix += "/"
	}
	var paths []string
	for candidate := range t.files {
		if strings.HasPrefix(candidate, prefix) {
			paths = append(paths, strings.TrimPrefix(candidate, prefix))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Stat implements Transport.Stat.
func (t *MemoryTransport) Stat(p string) (Stat, error) {
	p = normalize(p)
	if content, ok := t.files[p]; ok {
		return Stat{Size: int64(len(content)), Mode: 0644}, nil
	}
	if t.dirs[p] {
		return Stat{Mode: os.ModeDir | 0755}, nil
	}
	return Stat{}, &NoSuchFileError{Path: p}
}
