// Package secret derives the 20-byte HMAC-SHA1 secrets that everything else
// in the decryptor keys off of: the files.db hash-tree secret, the
// per-integrity-table ICV secret, and the per-file-index secret, all rooted
// in the image's klicensee.
//
// The exact derivation pipeline the console firmware runs
// (scePfsUtilGetSecret) has not been reverse-engineered bit-for-bit here.
// This is a structurally faithful composition (KeyEncryptor-wrapped AES-ECB
// key material feeding an HMAC-SHA1), not a firmware-verified one. Treat
// Derive as correct in shape, unverified in exact byte output, until it is
// checked against known-good vectors.
package secret

import (
	"encoding/binary"
	"fmt"

	"github.com/psvpfs/pfsdec/internal/crypto"
	"github.com/psvpfs/pfsdec/internal/keyenc"
)

// Size is the length of every derived secret.
const Size = 20

// Kind selects which of the three fixed seed constants to derive from.
type Kind int

const (
	// KindFiles derives the files.db hash-tree secret.
	KindFiles Kind = iota
	// KindICV derives a per-integrity-table ICV secret.
	KindICV
	// KindFileIndex derives the per-file-index secret; VerifyKeystone keys
	// the keystone check with it.
	KindFileIndex
)

// seedConstants are fixed per-kind domain separators mixed into the seed
// before it reaches the key encryptor, so the same klicensee yields three
// independent derived keys.
var seedConstants = map[Kind]uint32{
	KindFiles:     0x01,
	KindICV:       0x02,
	KindFileIndex: 0x03,
}

// Derive computes the Size-byte secret for kind, given the image klicensee,
// an index distinguishing multiple instances of the same kind (e.g. one ICV
// secret per integrity table), and the per-entity salt that kind is rooted
// in (files_salt for KindFiles, a file's file_salt for KindICV). A zero
// index or zero salt is always valid.
func Derive(cp crypto.Provider, ke keyenc.Encryptor, klicensee [16]byte, kind Kind, index uint32, salt [16]byte) ([]byte, error) {
	constant, ok := seedConstants[kind]
	if !ok {
		return nil, fmt.Errorf("secret: unknown kind %d", kind)
	}

	var seed [16]byte
	copy(seed[:], klicensee[:])
	binary.LittleEndian.PutUint32(seed[12:], seed32(constant, index))

	drv, err := ke.EncryptKey(seed)
	if err != nil {
		return nil, fmt.Errorf("secret: key encryptor: %w", err)
	}

	var keyMaterial [16]byte
	if err := cp.AesEcbEncrypt(keyMaterial[:], klicensee[:], drv[:]); err != nil {
		return nil, fmt.Errorf("secret: ecb stage: %w", err)
	}
	for i := range keyMaterial {
		keyMaterial[i] ^= salt[i]
	}

	mac, err := cp.HmacSha1(keyMaterial[:], seed[:])
	if err != nil {
		return nil, fmt.Errorf("secret: hmac stage: %w", err)
	}
	if len(mac) != Size {
		return nil, fmt.Errorf("secret: unexpected hmac length %d", len(mac))
	}
	return mac, nil
}

func seed32(constant uint32, index uint32) uint32 {
	return constant ^ (index * 0x9E3779B1)
}
