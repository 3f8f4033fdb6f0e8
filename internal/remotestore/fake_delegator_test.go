package remotestore

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// fakeDelegator is an in-memory stand-in for the real colinmarc/hdfs client,
// sufficient to exercise the append-data-then-index protocol and purge
// without a running HDFS cluster.
type fakeDelegator struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeDelegator() *fakeDelegator {
	return &fakeDelegator{files: make(map[string][]byte)}
}

func (f *fakeDelegator) Stat(name string) (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}

	return fakeFileInfo{name: name, size: int64(len(data))}, nil
}

func (f *fakeDelegator) Create(name string) (io.WriteCloser, error) {
	f.mu.Lock()
	f.files[name] = []byte{}
	f.mu.Unlock()

	return &fakeWriter{d: f, name: name}, nil
}

func (f *fakeDelegator) Append(name string) (io.WriteCloser, error) {
	return &fakeWriter{d: f, name: name}, nil
}

func (f *fakeDelegator) MkdirAll(string, os.FileMode) error { return nil }

func (f *fakeDelegator) Remove(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for k := range f.files {
		if strings.HasPrefix(k, dir) {
			delete(f.files, k)
		}
	}

	return nil
}

func (f *fakeDelegator) contents(name string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]byte(nil), f.files[name]...)
}

type fakeWriter struct {
	d    *fakeDelegator
	name string
	buf  []byte
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *fakeWriter) Close() error {
	w.d.mu.Lock()
	defer w.d.mu.Unlock()

	w.d.files[w.name] = append(w.d.files[w.name], w.buf...)

	return nil
}

type fakeFileInfo struct {
	name string
	size int64
}

func (fi fakeFileInfo) Name() string       { return fi.name }
func (fi fakeFileInfo) Size() int64        { return fi.size }
func (fi fakeFileInfo) Mode() os.FileMode  { return 0 }
func (fi fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (fi fakeFileInfo) IsDir() bool        { return false }
func (fi fakeFileInfo) Sys() any           { return nil }
