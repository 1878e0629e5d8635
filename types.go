// Package pfs decrypts a PlayStation Vita protected filesystem image: it
// parses files.db's paged hash tree, binds unicv.db/icv.db integrity tables
// to on-disk files, and decrypts each file sector by sector under keys
// derived from an image klicensee.
package pfs

import "fmt"

// Klicensee is the 128-bit root key every derivation in an image starts
// from.
type Klicensee [16]byte

// FileType enumerates the kinds a files.db directory entry can take on.
// Names mirror the predicates the original parser runs over each entry
// before trusting it.
type FileType uint32

const (
	TypeUnexisting FileType = iota
	TypeDirectory
	TypeNormalFile
	TypeUnencryptedFile
)

func (t FileType) IsDirectory() bool      { return t == TypeDirectory }
func (t FileType) IsEncryptedFile() bool  { return t == TypeNormalFile }
func (t FileType) IsUnencryptedFile() bool { return t == TypeUnencryptedFile }
func (t FileType) IsUnexisting() bool     { return t == TypeUnexisting }

// IsValidFileType reports whether t is one files.db is allowed to carry on
// disk; TypeUnexisting placeholders are repaired to TypeNormalFile during
// tree construction and never appear in the final flattened tree.
func (t FileType) IsValidFileType() bool {
	switch t {
	case TypeDirectory, TypeNormalFile, TypeUnencryptedFile, TypeUnexisting:
		return true
	default:
		return false
	}
}

func (t FileType) String() string {
	switch t {
	case TypeUnexisting:
		return "unexisting"
	case TypeDirectory:
		return "directory"
	case TypeNormalFile:
		return "normal_file"
	case TypeUnencryptedFile:
		return "unencrypted_file"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// ImageSpec identifies the crypto engine an image was produced under, which
// selects the AES mode PfsFile uses for sector decryption.
type ImageSpec struct {
	// CryptoEngine is 1 for CBC-mode images, 2 for CTR-mode images.
	CryptoEngine uint32
}

func (s ImageSpec) UsesCtr() bool { return s.CryptoEngine == 2 }
