package uploader

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Source is one node of the file input structure passed to Handle: a live
// file handle, a path on the temporary disk, or a nested group of either.
type Source interface {
	isSource()
}

// File is a live upload handle with its content in memory.
type File struct {
	Name    string // Original client filename
	Content []byte
}

// NewFile reads src fully into a File.
func NewFile(name string, src io.Reader) (*File, error) {
	content, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", name, err)
	}
	return &File{Name: name, Content: content}, nil
}

// FileFromBytes wraps already-buffered content.
func FileFromBytes(name string, content []byte) *File {
	return &File{Name: name, Content: content}
}

func (f *File) isSource() {}

// Ext returns the lowercase extension without the dot.
func (f *File) Ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(f.Name), "."))
}

func (f *File) Size() int64 {
	return int64(len(f.Content))
}

// MIME returns the content-sniffed MIME type.
func (f *File) MIME() string {
	return mimetype.Detect(f.Content).String()
}

// TempPath is a file already staged on the temporary disk, identified by its
// backend-relative path. The basename is preserved as the original filename.
type TempPath string

func (TempPath) isSource() {}

// Group nests sources; callers may submit shapes like
// Group{images, video} where images is itself a Group.
type Group []Source

func (Group) isSource() {}

// Flatten returns the leaves of src depth-first, preserving encounter order.
func Flatten(src Source) []Source {
	var out []Source
	flattenInto(&out, src)
	return out
}

func flattenInto(out *[]Source, src Source) {
	switch s := src.(type) {
	case nil:
	case Group:
		for _, child := range s {
			flattenInto(out, child)
		}
	default:
		if s != nil {
			*out = append(*out, s)
		}
	}
}
