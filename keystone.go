package pfs

import (
	"io"

	"github.com/psvpfs/pfsdec/internal/crypto"
	"github.com/psvpfs/pfsdec/internal/keyenc"
	"github.com/psvpfs/pfsdec/internal/secret"
)

// KeystonePath is the fixed location of the keystone sanity-check file
// relative to a title's destination root.
const KeystonePath = "sce_sys/keystone"

// KeystoneSize is the fixed size of the keystone file: a 16-byte body
// followed by its 20-byte HMAC-SHA1 tag.
const KeystoneSize = 36

// VerifyKeystone re-derives the keystone secret from klicensee and checks
// it against the decrypted sce_sys/keystone file, proving end to end that
// the klicensee used for the whole run was correct. This must run only
// after DecryptFiles has returned success, never before.
func VerifyKeystone(cp crypto.Provider, ke keyenc.Encryptor, klicensee Klicensee, r io.Reader) error {
	buf := make([]byte, KeystoneSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return &IoError{Op: "read", Path: KeystonePath, Err: err}
	}

	body, tag := buf[:16], buf[16:]

	// The keystone secret has no associated per-entity salt in the wire
	// format, unlike the files and ICV secrets.
	var noSalt [16]byte
	keystoneSecret, err := secret.Derive(cp, ke, [16]byte(klicensee), secret.KindFileIndex, 0, noSalt)
	if err != nil {
		return &CryptoFailure{Op: "derive_keystone_secret", Err: err}
	}

	mac, err := cp.HmacSha1(keystoneSecret, body)
	if err != nil {
		return &CryptoFailure{Op: "hmac_sha1", Err: err}
	}

	if !bytesEqual(mac, tag) {
		return &FormatError{Path: KeystonePath, Message: "keystone sanity check failed, wrong klicensee"}
	}
	return nil
}
