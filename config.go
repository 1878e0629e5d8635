package pfs

import (
	"encoding/hex"
	"fmt"

	"github.com/absfs/absfs"

	"github.com/psvpfs/pfsdec/internal/keyenc"
)

// Config holds everything one decrypt run needs, in the style of an
// options struct validated once up front rather than checked piecemeal
// through the call chain.
type Config struct {
	// Source is the filesystem the title directory tree is read from.
	Source absfs.FileSystem
	// Dest is the filesystem the decrypted tree is written to.
	Dest absfs.FileSystem

	// TitleRoot is the path, within Source, of the title directory.
	TitleRoot string
	// DestRoot is the path, within Dest, decrypted output is written under.
	DestRoot string

	// KlicenseeHex, if non-empty, is a 32-hex-char raw klicensee and takes
	// precedence over ZRIF.
	KlicenseeHex string
	// ZRIF, if non-empty and KlicenseeHex is empty, is a zRIF license
	// string to decode for the klicensee. Decoding is not implemented;
	// this field exists so the CLI surface matches the reference tool's,
	// and resolving it returns ErrNotImplemented.
	ZRIF string

	// KeyEncryptor performs the F00D key-wrap step. Required.
	KeyEncryptor keyenc.Encryptor

	// Workers bounds the decrypt worker pool. Zero means sequential.
	Workers int
}

// ErrNotImplemented is returned by external-collaborator stubs (zRIF
// decoding, sealed-key derivation) that are documented but not built.
var ErrNotImplemented = fmt.Errorf("not implemented")

// Validate checks Config for the preconditions Mount and DecryptFiles
// assume hold.
func (c *Config) Validate() error {
	if c.Source == nil {
		return fmt.Errorf("config: source filesystem required")
	}
	if c.Dest == nil {
		return fmt.Errorf("config: dest filesystem required")
	}
	if c.TitleRoot == "" {
		return fmt.Errorf("config: title root required")
	}
	if c.KeyEncryptor == nil {
		return fmt.Errorf("config: key encryptor required")
	}
	if c.KlicenseeHex == "" && c.ZRIF == "" {
		return fmt.Errorf("config: klicensee or zrif required (sealed-key derivation is not implemented)")
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0")
	}
	return nil
}

// ResolveKlicensee implements the reference tool's extraction precedence:
// raw hex klicensee first, then zRIF license decode, then device
// sealed-key derivation. Only the raw-hex path is implemented; the other
// two are documented external collaborators and return ErrNotImplemented.
func (c *Config) ResolveKlicensee() (Klicensee, error) {
	var out Klicensee

	if c.KlicenseeHex != "" {
		b, err := hex.DecodeString(c.KlicenseeHex)
		if err != nil {
			return out, fmt.Errorf("config: invalid klicensee hex: %w", err)
		}
		if len(b) != len(out) {
			return out, fmt.Errorf("config: klicensee must be %d bytes, got %d", len(out), len(b))
		}
		copy(out[:], b)
		return out, nil
	}

	if c.ZRIF != "" {
		return out, fmt.Errorf("config: zrif decode: %w", ErrNotImplemented)
	}

	return out, fmt.Errorf("config: sealed-key derivation: %w", ErrNotImplemented)
}
