package pfs

import (
	"bytes"
	"testing"

	"go.uber.org/zap"

	"github.com/psvpfs/pfsdec/internal/crypto"
	"github.com/psvpfs/pfsdec/internal/icvdb"
)

func TestMapPagesBindsSingleFileToMatchingTable(t *testing.T) {
	cp := crypto.New()
	ke := testEncryptor()
	var klicensee Klicensee
	klicensee[5] = 0x42

	var fileSalt, fileIv [16]byte
	fileSalt[0] = 0x0A
	fileIv[0] = 0x0B
	sectorSize := uint32(16)

	table := &icvdb.Table{IcvSalt: 99, SectorSize: sectorSize, NumSectors: 1, Arity: 4}
	secretKey, err := deriveSectorSecret(cp, ke, klicensee, fileSalt, table.IcvSalt, 0)
	if err != nil {
		t.Fatalf("deriveSectorSecret: %v", err)
	}
	plain := bytes.Repeat([]byte{0x7A}, int(sectorSize))
	ciphertext := make([]byte, sectorSize)
	if err := cp.AesCbcEncrypt(ciphertext, plain, secretKey[:16], fileIv[:]); err != nil {
		t.Fatalf("AesCbcEncrypt: %v", err)
	}
	mac, err := cp.HmacSha1(secretKey, plain)
	if err != nil {
		t.Fatalf("HmacSha1: %v", err)
	}
	table.LeafIcvs = [][20]byte{{}}
	copy(table.LeafIcvs[0][:], mac)

	// A decoy table that must not match.
	decoy := &icvdb.Table{IcvSalt: 1, SectorSize: sectorSize, NumSectors: 1, Arity: 4, LeafIcvs: [][20]byte{{0xFF}}}

	fb := FlatBlock{Idx: 3, Name: "eboot.bin", Info: FileInfo{Type: TypeNormalFile, Size: uint64(sectorSize), FileSalt: fileSalt, FileIv: fileIv}}
	paths := map[uint32]string{3: "/title/eboot.bin"}

	readFirstSector := func(p string, size uint32) ([]byte, error) {
		if p != "/title/eboot.bin" {
			t.Fatalf("unexpected path %q", p)
		}
		return ciphertext[:size], nil
	}

	bindings, err := MapPages(cp, ke, klicensee, ImageSpec{CryptoEngine: 1}, []*icvdb.Table{decoy, table}, []FlatBlock{fb}, paths, readFirstSector, zap.NewNop(), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("MapPages: %v", err)
	}
	if len(bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(bindings))
	}
	if bindings[0].Table != table {
		t.Error("bound to the wrong table")
	}
	if bindings[0].Path != "/title/eboot.bin" {
		t.Errorf("Path = %q, want /title/eboot.bin", bindings[0].Path)
	}
}

func TestMapPagesMatchesCtrModeImage(t *testing.T) {
	cp := crypto.New()
	ke := testEncryptor()
	var klicensee Klicensee
	klicensee[5] = 0x42

	var fileSalt, fileIv [16]byte
	fileSalt[0] = 0x0A
	fileIv[0] = 0x0B
	sectorSize := uint32(16)

	table := &icvdb.Table{IcvSalt: 99, SectorSize: sectorSize, NumSectors: 1, Arity: 4}
	secretKey, err := deriveSectorSecret(cp, ke, klicensee, fileSalt, table.IcvSalt, 0)
	if err != nil {
		t.Fatalf("deriveSectorSecret: %v", err)
	}
	plain := bytes.Repeat([]byte{0x7A}, int(sectorSize))
	ciphertext := make([]byte, sectorSize)
	ctrIv := fileIv
	if err := cp.AesCtrEncrypt(ciphertext, plain, secretKey[:16], ctrIv[:]); err != nil {
		t.Fatalf("AesCtrEncrypt: %v", err)
	}
	mac, err := cp.HmacSha1(secretKey, plain)
	if err != nil {
		t.Fatalf("HmacSha1: %v", err)
	}
	table.LeafIcvs = [][20]byte{{}}
	copy(table.LeafIcvs[0][:], mac)

	fb := FlatBlock{Idx: 3, Name: "eboot.bin", Info: FileInfo{Type: TypeNormalFile, Size: uint64(sectorSize), FileSalt: fileSalt, FileIv: fileIv}}
	paths := map[uint32]string{3: "/title/eboot.bin"}
	readFirstSector := func(p string, size uint32) ([]byte, error) {
		return ciphertext[:size], nil
	}

	bindings, err := MapPages(cp, ke, klicensee, ImageSpec{CryptoEngine: 2}, []*icvdb.Table{table}, []FlatBlock{fb}, paths, readFirstSector, zap.NewNop(), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("MapPages: %v", err)
	}
	if len(bindings) != 1 {
		t.Fatalf("expected 1 binding for a CTR-mode image, got %d", len(bindings))
	}
}

func TestMapPagesSkipsEmptyFiles(t *testing.T) {
	cp := crypto.New()
	ke := testEncryptor()
	var klicensee Klicensee

	fb := FlatBlock{Idx: 1, Name: "empty.bin", Info: FileInfo{Type: TypeNormalFile, Size: 0}}
	bindings, err := MapPages(cp, ke, klicensee, ImageSpec{CryptoEngine: 1}, nil, []FlatBlock{fb}, nil, nil, zap.NewNop(), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("MapPages: %v", err)
	}
	if len(bindings) != 0 {
		t.Errorf("expected 0 bindings for an empty file, got %d", len(bindings))
	}
}

func TestMapPagesFailsWhenNoTableMatches(t *testing.T) {
	cp := crypto.New()
	ke := testEncryptor()
	var klicensee Klicensee

	table := &icvdb.Table{IcvSalt: 1, SectorSize: 16, NumSectors: 1, Arity: 4, LeafIcvs: [][20]byte{{0xFF}}}
	fb := FlatBlock{Idx: 1, Name: "eboot.bin", Info: FileInfo{Type: TypeNormalFile, Size: 16}}
	paths := map[uint32]string{1: "/title/eboot.bin"}
	readFirstSector := func(p string, size uint32) ([]byte, error) {
		return make([]byte, size), nil
	}

	_, err := MapPages(cp, ke, klicensee, ImageSpec{CryptoEngine: 1}, []*icvdb.Table{table}, []FlatBlock{fb}, paths, readFirstSector, zap.NewNop(), &bytes.Buffer{})
	if !IsPageBindingFailed(err) {
		t.Errorf("expected PageBindingFailed, got %v", err)
	}
}

func TestCeilDiv(t *testing.T) {
	cases := []struct{ a, b, want uint64 }{
		{16, 16, 1},
		{17, 16, 2},
		{0, 16, 0},
		{5, 0, 0},
	}
	for _, c := range cases {
		if got := ceilDiv(c.a, c.b); got != c.want {
			t.Errorf("ceilDiv(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
