package pfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/psvpfs/pfsdec/internal/crypto"
	"github.com/psvpfs/pfsdec/internal/keyenc"
	"github.com/psvpfs/pfsdec/internal/secret"
)

// FilesDb is the parsed, validated result of reading one title's
// files.db: its header, its flattened directory and file lists, and the
// arena of parent indices needed to rebuild a path for any entry.
type FilesDb struct {
	Header PfsHeader

	Dirs  []FlatBlock
	Files []FlatBlock

	// parentOf maps every flat entry's Idx to its ParentIdx, across both
	// dirs and files, so path construction never needs a pointer graph.
	parentOf map[uint32]uint32
	// dirByIdx indexes Dirs by Idx for ancestor name lookups.
	dirByIdx map[uint32]*FlatBlock
}

// ParseFilesDb reads and fully validates a files.db blob: header, header
// ICV, the page tree, its hash tree, and the flattened dir/file matrices
// with unexisting-slot type repair.
func ParseFilesDb(r io.ReadSeeker, cp crypto.Provider, klicensee Klicensee, ke keyenc.Encryptor, logger *zap.Logger) (*FilesDb, error) {
	var hdr PfsHeader
	if _, err := hdr.ReadFrom(r); err != nil {
		return nil, &IoError{Op: "read", Path: "files.db", Err: err}
	}
	if err := hdr.Validate(); err != nil {
		return nil, err
	}

	filesSecret, err := secret.Derive(cp, ke, [16]byte(klicensee), secret.KindFiles, 0, hdr.FilesSalt)
	if err != nil {
		return nil, &CryptoFailure{Op: "derive_files_secret", Err: err}
	}

	mac, err := cp.HmacSha1(filesSecret, hdr.rawForAuth())
	if err != nil {
		return nil, &CryptoFailure{Op: "header_icv", Err: err}
	}
	if !bytesEqual(mac, hdr.HeaderIcv[:]) {
		return nil, &HeaderIcvInvalid{Path: "files.db"}
	}

	if _, err := r.Seek(HeaderSize, io.SeekStart); err != nil {
		return nil, &IoError{Op: "seek", Path: "files.db", Err: err}
	}

	blocks := make(map[uint32]*Block)
	nodeIcvs := make(map[uint32][]byte)

	for page := uint32(0); ; page++ {
		b, err := readBlock(r, page)
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if fe, ok := err.(*FormatError); ok {
				return nil, fe
			}
			return nil, &IoError{Op: "read", Path: "files.db", Err: err}
		}
		if b.Bad {
			logger.Warn("bad block encountered, nFiles exceeded slot count", zap.Uint32("page", page))
		}

		icv, err := calculateNodeIcv(cp, filesSecret, b)
		if err != nil {
			return nil, err
		}
		blocks[page] = b
		nodeIcvs[page] = icv
	}

	if err := validateHashTree(blocks, nodeIcvs, hdr.RootIcvPageNumber, hdr.RootIcv[:]); err != nil {
		return nil, err
	}

	db := &FilesDb{
		Header:   hdr,
		parentOf: make(map[uint32]uint32),
		dirByIdx: make(map[uint32]*FlatBlock),
	}

	seenIdx := make(map[uint32]bool)

	for _, b := range blocks {
		for i := 0; i < int(b.Header.NFiles) && i < MaxFilesInBlock; i++ {
			info := b.Infos[i]
			rec := b.Files[i]
			idx := info.Idx

			if info.Type.IsUnexisting() {
				if info.Size != 0 {
					logger.Warn("repairing unexisting entry with non-zero size", zap.Uint32("idx", idx))
					info.Type = TypeNormalFile
				} else {
					continue
				}
			}
			if !info.Type.IsValidFileType() {
				return nil, &FormatError{Path: "files.db", Message: fmt.Sprintf("entry %d: invalid type", idx)}
			}
			if idx == InvalidIndex {
				return nil, &IndexInvalid{Field: "child_idx", Value: idx}
			}
			if seenIdx[idx] {
				return nil, &IndexInvalid{Field: "child_idx (duplicate)", Value: idx}
			}
			seenIdx[idx] = true

			fb := FlatBlock{Idx: idx, ParentIdx: rec.ParentIdx, Name: rec.NameString(), Info: info}
			db.parentOf[idx] = rec.ParentIdx

			if info.Type.IsDirectory() {
				db.Dirs = append(db.Dirs, fb)
				db.dirByIdx[idx] = &db.Dirs[len(db.Dirs)-1]
			} else {
				db.Files = append(db.Files, fb)
			}
		}
	}

	return db, nil
}

// Path reconstructs the logical, case-preserving path of entry by walking
// parent indices up to the root.
func (db *FilesDb) Path(entry FlatBlock) (string, error) {
	var segments []string
	segments = append(segments, entry.Name)

	cur := entry.ParentIdx
	seen := map[uint32]bool{entry.Idx: true}
	for cur != InvalidIndex {
		if seen[cur] {
			return "", &IndexInvalid{Field: "parent_idx (cycle)", Value: cur}
		}
		seen[cur] = true

		parentDir, ok := db.dirByIdx[cur]
		if !ok {
			return "", &IndexInvalid{Field: "parent_idx", Value: cur}
		}
		segments = append(segments, parentDir.Name)
		cur = parentDir.ParentIdx
	}

	var buf bytes.Buffer
	for i := len(segments) - 1; i >= 0; i-- {
		buf.WriteString(segments[i])
		if i != 0 {
			buf.WriteByte('/')
		}
	}
	return buf.String(), nil
}
