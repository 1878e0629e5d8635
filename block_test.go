package pfs

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildBlockBytes(parentPage, blockType, nFiles uint32, names []string, parentIdxs []uint32) []byte {
	raw := make([]byte, PageSize)
	binary.LittleEndian.PutUint32(raw[0:4], parentPage)
	binary.LittleEndian.PutUint32(raw[4:8], blockType)
	binary.LittleEndian.PutUint32(raw[8:12], nFiles)

	off := blockHeaderSize
	for i := 0; i < MaxFilesInBlock; i++ {
		if i < len(names) {
			copy(raw[off:off+256], names[i])
		}
		binary.LittleEndian.PutUint32(raw[off+256:off+260], parentIdxs[i%len(parentIdxs)])
		off += blockRecordSize
	}
	// infos and hashes left zeroed; tests below only exercise header/name
	// parsing and the bad-block guard.
	return raw
}

func TestReadBlockParsesHeaderAndNames(t *testing.T) {
	raw := buildBlockBytes(InvalidIndex, uint32(blockTypeRoot), 2, []string{"sce_sys", "eboot.bin"}, []uint32{InvalidIndex})
	b, err := readBlock(bytes.NewReader(raw), 1)
	if err != nil {
		t.Fatalf("readBlock: %v", err)
	}
	if b.Header.NFiles != 2 {
		t.Errorf("NFiles = %d, want 2", b.Header.NFiles)
	}
	if b.Files[0].NameString() != "sce_sys" {
		t.Errorf("Files[0].NameString() = %q, want sce_sys", b.Files[0].NameString())
	}
	if b.Files[1].NameString() != "eboot.bin" {
		t.Errorf("Files[1].NameString() = %q, want eboot.bin", b.Files[1].NameString())
	}
	if b.Bad {
		t.Error("block incorrectly flagged Bad")
	}
}

func TestReadBlockRejectsBadType(t *testing.T) {
	raw := buildBlockBytes(InvalidIndex, 99, 0, nil, []uint32{InvalidIndex})
	if _, err := readBlock(bytes.NewReader(raw), 1); !IsFormatError(err) {
		t.Errorf("expected FormatError for bad block type, got %v", err)
	}
}

func TestReadBlockFlagsOverflowingNFiles(t *testing.T) {
	raw := buildBlockBytes(InvalidIndex, uint32(blockTypeChild), MaxFilesInBlock+1, nil, []uint32{InvalidIndex})
	b, err := readBlock(bytes.NewReader(raw), 2)
	if err != nil {
		t.Fatalf("readBlock: %v", err)
	}
	if !b.Bad {
		t.Error("expected block to be flagged Bad when NFiles exceeds MaxFilesInBlock")
	}
	if b.Header.NFiles != 0 {
		t.Errorf("NFiles should be reset to 0 on a bad block, got %d", b.Header.NFiles)
	}
}

func TestReadBlockTooShort(t *testing.T) {
	if _, err := readBlock(bytes.NewReader(make([]byte, 10)), 0); err == nil {
		t.Error("expected error reading a truncated block")
	}
}
