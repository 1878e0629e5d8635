package pfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the fixed size of the files.db header.
const HeaderSize = 0x400

// PageSize is the fixed page size every files.db block occupies.
const PageSize = 0x1000

// BtOrder is the fixed B-tree order (max children per page) files.db uses.
const BtOrder = 0x0A

var headerMagic = [8]byte{'N', 'P', 'D', 0, 0, 0, 0, 0}

// PfsHeader is the fixed-size header at the start of files.db.
type PfsHeader struct {
	Magic             [8]byte
	Version           uint32
	ImageSpec         ImageSpec
	KeyID             uint32
	FilesSalt         [16]byte
	PageSize          uint32
	BtOrder           uint32
	TailSize          uint64
	RootIcvPageNumber uint32
	RootIcv           [20]byte
	HeaderIcv         [20]byte
	RsaSig0           [256]byte
	Unk6              uint64
}

// the byte offsets of HeaderIcv and RsaSig0 within the wire layout, needed
// to zero them before recomputing the self-authenticating HMAC.
const (
	headerIcvOffset = 8 + 4 + 4 + 4 + 16 + 4 + 4 + 8 + 4 + 20
	rsaSig0Offset   = headerIcvOffset + 20
	// authenticatedSize is the span HMAC'd to produce header_icv.
	authenticatedSize = 0x160
)

// ReadFrom parses a PfsHeader from r, in the style of file_format.go's
// ReadFrom/WriteTo pair: little-endian fixed layout, no reflection.
func (h *PfsHeader) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return int64(n), fmt.Errorf("pfs: header read: %w", err)
	}

	copy(h.Magic[:], buf[0:8])
	h.Version = binary.LittleEndian.Uint32(buf[8:12])
	h.ImageSpec = ImageSpec{CryptoEngine: binary.LittleEndian.Uint32(buf[12:16])}
	h.KeyID = binary.LittleEndian.Uint32(buf[16:20])
	copy(h.FilesSalt[:], buf[20:36])
	h.PageSize = binary.LittleEndian.Uint32(buf[36:40])
	h.BtOrder = binary.LittleEndian.Uint32(buf[40:44])
	h.TailSize = binary.LittleEndian.Uint64(buf[44:52])
	h.RootIcvPageNumber = binary.LittleEndian.Uint32(buf[52:56])
	copy(h.RootIcv[:], buf[56:76])
	copy(h.HeaderIcv[:], buf[headerIcvOffset:headerIcvOffset+20])
	copy(h.RsaSig0[:], buf[rsaSig0Offset:rsaSig0Offset+256])
	h.Unk6 = binary.LittleEndian.Uint64(buf[rsaSig0Offset+256 : rsaSig0Offset+256+8])

	return int64(n), nil
}

// Validate checks the fixed-format invariants before the header's ICV is
// even considered.
func (h *PfsHeader) Validate() error {
	if !bytes.Equal(h.Magic[:3], headerMagic[:3]) {
		return &FormatError{Path: "files.db", Message: "bad magic"}
	}
	switch h.Version {
	case 3, 4, 5:
	default:
		return &FormatError{Path: "files.db", Message: fmt.Sprintf("unsupported version %d", h.Version)}
	}
	if h.KeyID != 0 {
		return &FormatError{Path: "files.db", Message: "key_id must be 0"}
	}
	if h.PageSize != PageSize {
		return &FormatError{Path: "files.db", Message: fmt.Sprintf("unexpected page size %d", h.PageSize)}
	}
	if h.BtOrder != BtOrder {
		return &FormatError{Path: "files.db", Message: fmt.Sprintf("unexpected bt_order %d", h.BtOrder)}
	}
	if h.Unk6 != 0xFFFFFFFFFFFFFFFF && h.Unk6 != 0x400 {
		return &FormatError{Path: "files.db", Message: fmt.Sprintf("unexpected unk6 %#x", h.Unk6)}
	}
	return nil
}

// rawForAuth returns the first authenticatedSize bytes of the header's wire
// form with header_icv and rsa_sig0 zeroed, ready for HMAC.
func (h *PfsHeader) rawForAuth() []byte {
	buf := make([]byte, authenticatedSize)
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint32(buf[12:16], h.ImageSpec.CryptoEngine)
	binary.LittleEndian.PutUint32(buf[16:20], h.KeyID)
	copy(buf[20:36], h.FilesSalt[:])
	binary.LittleEndian.PutUint32(buf[36:40], h.PageSize)
	binary.LittleEndian.PutUint32(buf[40:44], h.BtOrder)
	binary.LittleEndian.PutUint64(buf[44:52], h.TailSize)
	binary.LittleEndian.PutUint32(buf[52:56], h.RootIcvPageNumber)
	copy(buf[56:76], h.RootIcv[:])
	// header_icv (20) and all of rsa_sig0 (256) exactly fill
	// [76:authenticatedSize) and are left zero, matching the reference
	// parser zeroing both signature fields before re-hashing.
	return buf
}
