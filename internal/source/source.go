// Package source opens the byte sources the probe reads from: plain files,
// standard input, and files stored inside disk images. Sources whose name
// ends in ".zst" are decompressed on the fly.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"
)

// Stdin is the source name that selects standard input.
const Stdin = "-"

// imageSep separates a disk image path from the file path inside it.
const imageSep = "::"

// ZstdExt marks a zstd-compressed source.
const ZstdExt = ".zst"

// Option configures Open.
type Option func(*opener)

type opener struct {
	partition int
	stdin     io.Reader
	mmap      bool
}

// WithPartition selects the partition of a disk image to read. 0, the
// default, treats the whole image as one filesystem.
func WithPartition(n int) Option {
	return func(o *opener) {
		o.partition = n
	}
}

// WithStdin replaces os.Stdin as the reader behind the "-" source.
func WithStdin(r io.Reader) Option {
	return func(o *opener) {
		o.stdin = r
	}
}

// WithMmap maps plain files into memory instead of reading them through
// the file descriptor. Empty files are read normally.
func WithMmap() Option {
	return func(o *opener) {
		o.mmap = true
	}
}

// ParseSpec splits "image.img::/path/in/image" into its parts. ok is false
// for any spec that does not name a file inside an image.
func ParseSpec(spec string) (image, path string, ok bool) {
	image, path, ok = strings.Cut(spec, imageSep)
	if !ok || image == "" || path == "" {
		return "", "", false
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return image, path, true
}

// Open returns a reader for spec, which is "-" for standard input,
// "image::path" for a file inside a disk image, or a plain file path.
// Closing the reader for standard input leaves it open.
func Open(spec string, opts ...Option) (io.ReadCloser, error) {
	o := &opener{stdin: os.Stdin}
	for _, opt := range opts {
		opt(o)
	}

	if spec == Stdin {
		return io.NopCloser(o.stdin), nil
	}

	var (
		rc  io.ReadCloser
		err error
	)
	if image, path, ok := ParseSpec(spec); ok {
		rc, err = openImageFile(image, path, o.partition)
	} else if o.mmap {
		rc, err = openMapped(spec)
	} else {
		rc, err = os.Open(spec)
		if err != nil {
			err = fmt.Errorf("source: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(spec, ZstdExt) {
		return decompress(rc)
	}
	return rc, nil
}

// zstdFile decompresses a source; closing it closes the source too.
type zstdFile struct {
	dec *zstd.Decoder
	src io.Closer
}

func (f *zstdFile) Read(p []byte) (int, error) { return f.dec.Read(p) }

func (f *zstdFile) Close() error {
	f.dec.Close()
	return f.src.Close()
}

func decompress(rc io.ReadCloser) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("source: zstd: %w", err)
	}
	return &zstdFile{dec: dec, src: rc}, nil
}

// mappedFile reads a plain file through a read-only memory mapping.
type mappedFile struct {
	*bytes.Reader
	m mmap.MMap
	f *os.File
}

func (f *mappedFile) Close() error {
	return errors.Join(f.m.Unmap(), f.f.Close())
}

func openMapped(name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: %w", err)
	}
	if info.Size() == 0 {
		return f, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: mmap %s: %w", name, err)
	}
	return &mappedFile{Reader: bytes.NewReader(m), m: m, f: f}, nil
}

// imageFile is a file inside a disk image; closing it releases the image.
type imageFile struct {
	filesystem.File
	disk *disk.Disk
}

func (f *imageFile) Close() error {
	return errors.Join(f.File.Close(), f.disk.Close())
}

func openImageFile(image, path string, partition int) (io.ReadCloser, error) {
	d, err := diskfs.Open(image, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return nil, fmt.Errorf("source: open image %s: %w", image, err)
	}
	fs, err := d.GetFilesystem(partition)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("source: image %s partition %d: %w", image, partition, err)
	}
	f, err := fs.OpenFile(path, os.O_RDONLY)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("source: %s in image %s: %w", path, image, err)
	}
	return &imageFile{File: f, disk: d}, nil
}
