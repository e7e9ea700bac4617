package metainfo

import (
	"path/filepath"

	"github.com/pkg/errors"
)

// FileInfo describes one file of a (possibly multi-file) torrent, in
// metainfo order. Offset is the cumulative length of every file that
// precedes it, so (Offset, Offset+Length) is the file's byte range
// within the torrent's logical concatenation of all files.
type FileInfo struct {
	Path   []string `bencode:"path"`
	Length int64    `bencode:"length"`
	Offset int64    `bencode:"-"`
}

// FullPath joins Path with the platform separator under root, rejecting
// any component that would escape root: "..", absolute components, and
// empty components are all forbidden.
func (fi FileInfo) FullPath(root string) (string, error) {
	clean := make([]string, 0, len(fi.Path))
	for _, c := range fi.Path {
		if c == "" || c == "." || c == ".." || filepath.IsAbs(c) {
			return "", errors.Errorf("metainfo: forbidden path component %q", c)
		}
		clean = append(clean, c)
	}
	if len(clean) == 0 {
		return "", errors.New("metainfo: file has no path components")
	}
	return filepath.Join(append([]string{root}, clean...)...), nil
}

// Info is the decoded "info" dictionary: everything that is covered by
// the infohash and therefore must never change once a swarm exists.
type Info struct {
	Name        string     `bencode:"name"`
	PieceLength int64      `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Private     bool       `bencode:"private,omitempty"`
	Length      int64      `bencode:"length,omitempty"`
	Files       []FileInfo `bencode:"files,omitempty"`
}

// NumPieces is len(Pieces)/20.
func (info *Info) NumPieces() int { return len(info.Pieces) / 20 }

// PieceHash returns the expected 20-byte SHA-1 hash of piece i.
func (info *Info) PieceHash(i int) [20]byte {
	var h [20]byte
	copy(h[:], info.Pieces[i*20:i*20+20])
	return h
}

// UpvertedFiles returns the file table, synthesizing a single-entry list
// from Length+Name when Files is empty (the single-file case), with
// Offset filled in for every entry.
func (info *Info) UpvertedFiles() []FileInfo {
	files := info.Files
	if len(files) == 0 {
		files = []FileInfo{{Path: []string{info.Name}, Length: info.Length}}
	}
	out := make([]FileInfo, len(files))
	var off int64
	for i, f := range files {
		f.Offset = off
		out[i] = f
		off += f.Length
	}
	return out
}

// TotalLength is the sum of every file's length.
func (info *Info) TotalLength() int64 {
	var total int64
	for _, f := range info.UpvertedFiles() {
		total += f.Length
	}
	return total
}

// PieceLengthOf returns the length of piece i: PieceLength for every
// piece but the last, whose length is whatever remains of TotalLength.
func (info *Info) PieceLengthOf(i int) int64 {
	if i == info.NumPieces()-1 {
		last := info.TotalLength() - int64(i)*info.PieceLength
		return last
	}
	return info.PieceLength
}

// Validate checks that piece_length is positive, that pieces is a whole
// number of 20-byte hashes, and that the piece count implied by pieces
// agrees with ceil(total/piece_length).
func (info *Info) Validate() error {
	if info.PieceLength <= 0 {
		return errors.Errorf("metainfo: non-positive piece length %d", info.PieceLength)
	}
	if len(info.Pieces)%20 != 0 {
		return errors.Errorf("metainfo: pieces field length %d is not a multiple of 20", len(info.Pieces))
	}
	total := info.TotalLength()
	wantPieces := ceilDiv(total, info.PieceLength)
	if wantPieces != int64(info.NumPieces()) {
		return errors.Errorf(
			"metainfo: piece count mismatch: pieces field implies %d, total size %d at piece length %d implies %d",
			info.NumPieces(), total, info.PieceLength, wantPieces,
		)
	}
	if wantPieces > 0 {
		last := info.PieceLengthOf(int(wantPieces - 1))
		if last <= 0 || last > info.PieceLength {
			return errors.Errorf("metainfo: last piece length %d out of range (0, %d]", last, info.PieceLength)
		}
	}
	return nil
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
