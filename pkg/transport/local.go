package transport

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// LocalTransport is a Transport backed by a directory on the local filesystem.
type LocalTransport struct {
	// root is the absolute base directory.
	root string
}

// NewLocalTransport creates a transport rooted at the specified directory.
func NewLocalTransport(root string) (*LocalTransport, error) {
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve transport root")
	}
	return &LocalTransport{root: absolute}, nil
}

// abs converts a relative transport path to an absolute filesystem path,
// refusing escapes above the root.
func (t *LocalTransport) abs(p string) (string, error) {
	cleaned := filepath.Clean("/" + filepath.FromSlash(p))
	return filepath.Join(t.root, cleaned), nil
}

// translate converts filesystem errors into transport error kinds.
func translate(p string, err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return &NoSuchFileError{Path: p}
	}
	if os.IsExist(err) {
		return &FileExistsError{Path: p}
	}
	return err
}

// Has implements Transport.Has.
func (t *LocalTransport) Has(p string) (bool, error) {
	full, err := t.abs(p)
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Get implements Transport.Get.
func (t *LocalTransport) Get(p string) ([]byte, error) {
	full, err := t.abs(p)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, translate(p, err)
	}
	return content, nil
}

// Put implements Transport.Put.
func (t *LocalTransport) Put(p string, content []byte) error {
	full, err := t.abs(p)
	if err != nil {
		return err
	}
	return translate(p, os.WriteFile(full, content, 0644))
}

// Append implements Transport.Append.
func (t *LocalTransport) Append(p string, content []byte) (int64, error) {
	full, err := t.abs(p)
	if err != nil {
		return 0, err
	}
	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return 0, translate(p, err)
	}
	defer file.Close()
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := file.Write(content); err != nil {
		return 0, err
	}
	return offset, nil
}

// Readv implements Transport.Readv.
func (t *LocalTransport) Readv(p string, offsets []Offset) ([][]byte, error) {
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
func (t *LocalTransport) Mkdir(p string) error {
	full, err := t.abs(p)
	if err != nil {
		return err
	}
	return translate(p, os.Mkdir(full, 0755))
}

// Delete implements Transport.Delete.
func (t *LocalTransport) Delete(p string) error {
	full, err := t.abs(p)
	if err != nil {
		return err
	}
	return translate(p, os.Remove(full))
}

// Rmdir implements Transport.Rmdir.
func (t *LocalTransport) Rmdir(p string) error {
	return t.Delete(p)
}

// Move implements Transport.Move.
func (t *LocalTransport) Move(source, target string) error {
	fullSource, err := t.abs(source)
	if err != nil {
		return err
	}
	fullTarget, err := t.abs(target)
	if err != nil {
		return err
	}
	return translate(source, os.Rename(fullSource, fullTarget))
}

// Rename implements Transport.Rename.
func (t *LocalTransport) Rename(source, target string) error {
	if exists, err := t.Has(target); err != nil {
		return err
	} else if exists {
		return &FileExistsError{Path: target}
	}
	return t.Move(source, target)
}

// Copy implements Transport.Copy.
func (t *LocalTransport) Copy(source, target string) error {
	content, err := t.Get(source)
	if err != nil {
		return err
	}
	return t.Put(target, content)
}

// ListDir implements Transport.ListDir.
func (t *LocalTransport) ListDir(p string) ([]string, error) {
	full, err := t.abs(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NoSuchFileError{Path: p}
		}
		if strings.Contains(err.Error(), "not a directory") {
			return nil, &NotADirectoryError{Path: p}
		}
		return nil, err
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	sort.Strings(names)
	return names, nil
}

// IterFilesRecursive implements Transport.IterFilesRecursive.
func (t *LocalTransport) IterFilesRecursive(p string) ([]string, error) {
	full, err := t.abs(p)
	if err != nil {
		return nil, err
	}
	var paths []string
	err = filepath.Walk(full, func(candidate string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			relative, err := filepath.Rel(full, candidate)
			if err != nil {
				return err
			}
			paths = append(paths, filepath.ToSlash(relative))
		}
		return nil
	})
	if err != nil {
		return nil, translate(p, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Stat implements Transport.Stat.
func (t *LocalTransport) Stat(p string) (Stat, error) {
	full, err := t.abs(p)
	if err != nil {
		return Stat{}, err
	}
	info, err := os.Lstat(full)
	if err != nil {
		return Stat{}, translate(p, err)
	}
	return Stat{Size: info.Size(), Mode: info.Mode()}, nil
}
