package storage

import (
	"io"
	"os"
	"path/filepath"

	"github.com/kestrel-dev/torrentcore/metainfo"
)

// fileSet is the open-file half of Storage: it knows how to map a global
// byte offset into the torrent's logical concatenation of files onto
// reads and writes of the underlying files, creating directories and
// extending files (sparsely, where the OS supports it) as needed.
//
// Addressing is by global offset; Store converts its piece-relative
// (piece index, offset) addressing into it before calling readAt and
// writeAt.
type fileSet struct {
	root  string
	files []metainfo.FileInfo // upverted, with Offset populated
}

func newFileSet(root string, files []metainfo.FileInfo) (*fileSet, error) {
	fs := &fileSet{root: root, files: files}
	if err := fs.preallocate(); err != nil {
		return nil, err
	}
	return fs, nil
}

// preallocate creates every file (and its parent directories) up front,
// sized to its final length. Extending via Truncate rather than writing
// zeros leaves the tail sparse on filesystems that support holes.
func (fs *fileSet) preallocate() error {
	for _, f := range fs.files {
		path, err := f.FullPath(fs.root)
		if err != nil {
			return wrapIO("preallocate path", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
			return wrapIO("mkdir", err)
		}
		fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
		if err != nil {
			return wrapIO("open", err)
		}
		st, err := fh.Stat()
		if err == nil && st.Size() < f.Length {
			err = fh.Truncate(f.Length)
		}
		closeErr := fh.Close()
		if err != nil {
			return wrapIO("truncate", err)
		}
		if closeErr != nil {
			return wrapIO("close", closeErr)
		}
	}
	return nil
}

// readAt reads len(b) bytes starting at the global offset off, spanning
// file boundaries transparently.
func (fs *fileSet) readAt(b []byte, off int64) error {
	for _, f := range fs.files {
		if off >= f.Offset+f.Length {
			continue
		}
		if len(b) == 0 {
			return nil
		}
		localOff := off - f.Offset
		if localOff < 0 {
			return wrapIO("readAt", io.ErrUnexpectedEOF)
		}
		avail := f.Length - localOff
		n := int64(len(b))
		if n > avail {
			n = avail
		}
		path, err := f.FullPath(fs.root)
		if err != nil {
			return wrapIO("readAt path", err)
		}
		fh, err := os.Open(path)
		if err != nil {
			return wrapIO("readAt open", err)
		}
		_, err = io.ReadFull(io.NewSectionReader(fh, localOff, n), b[:n])
		fh.Close()
		if err != nil {
			return wrapIO("readAt read", err)
		}
		b = b[n:]
		off += n
	}
	if len(b) != 0 {
		return wrapIO("readAt", io.ErrUnexpectedEOF)
	}
	return nil
}

// writeAt scatter-writes b, starting at the global offset off, across
// every file region it covers.
func (fs *fileSet) writeAt(b []byte, off int64) error {
	for _, f := range fs.files {
		if off >= f.Offset+f.Length {
			continue
		}
		if len(b) == 0 {
			return nil
		}
		localOff := off - f.Offset
		if localOff < 0 {
			return wrapIO("writeAt", io.ErrUnexpectedEOF)
		}
		avail := f.Length - localOff
		n := int64(len(b))
		if n > avail {
			n = avail
		}
		path, err := f.FullPath(fs.root)
		if err != nil {
			return wrapIO("writeAt path", err)
		}
		fh, err := os.OpenFile(path, os.O_RDWR, 0o666)
		if err != nil {
			return wrapIO("writeAt open", err)
		}
		_, err = fh.WriteAt(b[:n], localOff)
		closeErr := fh.Close()
		if err != nil {
			return wrapIO("writeAt write", err)
		}
		if closeErr != nil {
			return wrapIO("writeAt close", closeErr)
		}
		b = b[n:]
		off += n
	}
	if len(b) != 0 {
		return wrapIO("writeAt", io.ErrUnexpectedEOF)
	}
	return nil
}
