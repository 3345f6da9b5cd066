package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Open opens path for reading and transparently decompresses it when the
// content starts with the gzip magic bytes. The file name is not consulted.
func Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archived message: %w", err)
	}

	r, err := NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("open archived message %s: %w", path, err)
	}
	return &readCloser{Reader: r, close: file.Close}, nil
}

// NewReader sniffs r and returns a reader over the decompressed content.
func NewReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if !bytes.Equal(head, gzipMagic) {
		return br, nil
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	return &lenientGzip{zr: zr}, nil
}

// ReadFile reads a whole archived message, decompressing when needed.
func ReadFile(path string) ([]byte, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read archived message %s: %w", path, err)
	}
	return data, nil
}

// lenientGzip stops at the first bad member header once data was produced,
// so files with trailing non-gzip bytes still read.
type lenientGzip struct {
	zr   *gzip.Reader
	read int64
}

func (g *lenientGzip) Read(p []byte) (int, error) {
	n, err := g.zr.Read(p)
	g.read += int64(n)
	if err != nil && g.read > 0 && errors.Is(err, gzip.ErrHeader) {
		return n, io.EOF
	}
	return n, err
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r *readCloser) Close() error {
	return r.close()
}
