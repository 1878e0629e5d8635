package pfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFilesInBlock is the fixed slot count of a files.db block.
const MaxFilesInBlock = 10

const (
	blockTypeRoot uint32 = iota
	blockTypeChild
)

// InvalidIndex marks an absent slot or absent parent.
const InvalidIndex uint32 = 0xFFFFFFFF

// BlockHeader is the fixed header at the start of every page-sized block.
type BlockHeader struct {
	ParentPageNumber uint32
	Type             uint32
	NFiles           uint32
}

// FileRecord is one of a block's 10 name/parent-index slots.
type FileRecord struct {
	Name      [256]byte
	ParentIdx uint32
}

// NameString returns the NUL-terminated name as a Go string.
func (r FileRecord) NameString() string {
	if i := bytes.IndexByte(r.Name[:], 0); i >= 0 {
		return string(r.Name[:i])
	}
	return string(r.Name[:])
}

// FileInfo is one of a block's 10 metadata slots.
type FileInfo struct {
	Type FileType
	// Idx is the entry's own global index, as stored on disk. It is the
	// child_idx referenced by FileRecord.ParentIdx elsewhere in the tree,
	// and is never derived from page/slot position.
	Idx      uint32
	Size     uint64
	FileSalt [16]byte
	FileIv   [16]byte
}

// Hash is one of a block's 10 child-ICV slots.
type Hash [20]byte

// Block is one page of the files.db tail.
type Block struct {
	PageNumber uint32
	Header     BlockHeader
	Files      [MaxFilesInBlock]FileRecord
	Infos      [MaxFilesInBlock]FileInfo
	Hashes     [MaxFilesInBlock]Hash
	// Raw is the exact page bytes as read, kept for calculateNodeIcv which
	// hashes the whole page rather than its parsed fields.
	Raw [PageSize]byte
	// Bad marks a block whose declared NFiles exceeded MaxFilesInBlock;
	// such a block's slots are not trusted.
	Bad bool
}

const (
	blockRecordSize = 260 // FileRecord: 256-byte name + 4-byte parent idx
	blockInfoSize   = 4 + 4 + 8 + 16 + 16 // type + idx + size + file_salt + file_iv
	blockHashSize   = 20
	blockHeaderSize = 12
)

// readBlock reads one PageSize-aligned page from r and parses it.
func readBlock(r io.Reader, pageNumber uint32) (*Block, error) {
	b := &Block{PageNumber: pageNumber}
	if _, err := io.ReadFull(r, b.Raw[:]); err != nil {
		return nil, fmt.Errorf("pfs: block %d: %w", pageNumber, err)
	}

	buf := bytes.NewReader(b.Raw[:])

	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(buf, hdr[:]); err != nil {
		return nil, err
	}
	b.Header = BlockHeader{
		ParentPageNumber: binary.LittleEndian.Uint32(hdr[0:4]),
		Type:             binary.LittleEndian.Uint32(hdr[4:8]),
		NFiles:           binary.LittleEndian.Uint32(hdr[8:12]),
	}

	if b.Header.Type != blockTypeRoot && b.Header.Type != blockTypeChild {
		return nil, &FormatError{Path: "files.db", Message: fmt.Sprintf("block %d: bad type %d", pageNumber, b.Header.Type)}
	}

	if b.Header.NFiles > MaxFilesInBlock {
		b.Bad = true
		b.Header.NFiles = 0
	}

	for i := 0; i < MaxFilesInBlock; i++ {
		var rec [blockRecordSize]byte
		if _, err := io.ReadFull(buf, rec[:]); err != nil {
			return nil, err
		}
		copy(b.Files[i].Name[:], rec[0:256])
		b.Files[i].ParentIdx = binary.LittleEndian.Uint32(rec[256:260])
	}

	for i := 0; i < MaxFilesInBlock; i++ {
		var info [blockInfoSize]byte
		if _, err := io.ReadFull(buf, info[:]); err != nil {
			return nil, err
		}
		b.Infos[i] = FileInfo{
			Type: FileType(binary.LittleEndian.Uint32(info[0:4])),
			Idx:  binary.LittleEndian.Uint32(info[4:8]),
			Size: binary.LittleEndian.Uint64(info[8:16]),
		}
		copy(b.Infos[i].FileSalt[:], info[16:32])
		copy(b.Infos[i].FileIv[:], info[32:48])
	}

	for i := 0; i < MaxFilesInBlock; i++ {
		if _, err := io.ReadFull(buf, b.Hashes[i][:]); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// FlatBlock is one live (non-unexisting) directory or file entry, carrying
// its own index plus the fields needed to build paths and derive keys.
type FlatBlock struct {
	Idx       uint32
	ParentIdx uint32
	Name      string
	Info      FileInfo
}
