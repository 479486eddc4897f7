// Package logrotate provides a size-rotated, append-only log file. Rotated
// files are gzip compressed.
package logrotate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// File is an io.WriteCloser that supports appending data to a file and file
// rotation.
//
// The file is automatically rotated once the file size exceeds the maximum
// size limit. The previous contents are compressed to "<name>.1.gz",
// replacing any earlier rotation. File should be created using OpenFile.
type File struct {
	name    string
	file    *os.File
	maxSize int64
	size    int64
	mu      sync.Mutex
}

// OpenFile opens the named file for appending. When writing to the file, it
// will automatically rotate once the file size exceeds maxSize (specified in
// megabytes).
func OpenFile(name string, maxSize int) (*File, error) {
	if maxSize < 1 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	return openFile(name, int64(maxSize)*1024*1024)
}

func openFile(name string, maxBytes int64) (*File, error) {
	file, err := os.OpenFile(name, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	// Get the current file size.
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	return &File{
		file:    file,
		name:    name,
		maxSize: maxBytes,
		size:    stat.Size(),
	}, nil
}

// Name returns the path of the active file.
func (f *File) Name() string {
	return f.name
}

// rotate checks if the file size exceeds the maximum allowed size. If so, it
// moves the current file aside, opens a new file with the original name, and
// compresses the old contents.
func (f *File) rotate() error {
	if f.size <= f.maxSize {
		return nil
	}

	// Capture the permissions of the current file. Any errors are handled
	// later and do not affect the rotation.
	info, statErr := f.file.Stat()

	if err := f.file.Close(); err != nil {
		return fmt.Errorf("can't close file: %w", err)
	}

	rotated := f.name + ".1"
	if err := os.Rename(f.name, rotated); err != nil {
		return fmt.Errorf("can't rename file: %w", err)
	}

	file, err := os.OpenFile(f.name, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("can't create new file: %w", err)
	}

	// Apply the original permissions to the new file. Best effort.
	if statErr == nil {
		_ = file.Chmod(info.Mode().Perm())
	}

	f.file = file
	f.size = 0

	// Compression is best effort. On failure the uncompressed ".1" file is
	// left in place.
	if err := compress(rotated, rotated+".gz"); err == nil {
		_ = os.Remove(rotated)
	}
	return nil
}

// compress writes a gzip copy of src to dst.
func compress(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		return errors.Join(err, zw.Close())
	}
	return zw.Close()
}

// Write writes len(b) bytes from b to the File. If the File's size exceeds its
// maxSize, the file is rotated first and the write is applied to the new
// file. Write returns a non-nil error when n != len(b).
func (f *File) Write(b []byte) (n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return 0, os.ErrClosed
	}

	if err := f.rotate(); err != nil {
		return 0, fmt.Errorf("log rotate: %w", err)
	}

	n, err = f.file.Write(b)
	f.size += int64(n)
	return n, err
}

// Close closes the File, rendering it unusable for I/O. Close returns an
// error if it has already been called.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return os.ErrClosed
	}
	err := f.file.Close()
	f.file = nil
	return err
}
