package pfs

import (
	"io"

	"github.com/psvpfs/pfsdec/internal/crypto"
	"github.com/psvpfs/pfsdec/internal/icvdb"
	"github.com/psvpfs/pfsdec/internal/keyenc"
)

// DecryptFile streams one bound file's sectors from src to dst, verifying
// each sector's ICV against the binding's integrity table before it is
// written. Reading and writing start at the current positions of src and
// dst and advance them.
func DecryptFile(cp crypto.Provider, ke keyenc.Encryptor, klicensee Klicensee, spec ImageSpec, b Binding, src io.Reader, dst io.Writer) error {
	table := b.Table
	remaining := b.File.Info.Size
	iv := b.File.Info.FileIv

	ciphertext := make([]byte, table.SectorSize)
	plain := make([]byte, table.SectorSize)

	for i := uint32(0); i < table.NumSectors; i++ {
		if _, err := io.ReadFull(src, ciphertext); err != nil {
			return &IoError{Op: "read", Path: b.Path, Err: err}
		}

		sectorSecret, err := deriveSectorSecret(cp, ke, klicensee, b.File.Info.FileSalt, table.IcvSalt, i)
		if err != nil {
			return err
		}

		if err := decryptSector(cp, spec, plain, ciphertext, sectorSecret[:16], iv[:]); err != nil {
			return err
		}

		mac, err := cp.HmacSha1(sectorSecret, plain)
		if err != nil {
			return &CryptoFailure{Op: "hmac_sha1", Err: err}
		}
		if int(i) >= len(table.LeafIcvs) || !bytesEqual(mac, table.LeafIcvs[i][:]) {
			return &SectorIcvInvalid{Path: b.Path, SectorIndex: i}
		}

		n := uint64(len(plain))
		if remaining < n {
			n = remaining
		}
		if _, err := dst.Write(plain[:n]); err != nil {
			return &IoError{Op: "write", Path: b.Path, Err: err}
		}
		remaining -= n
	}

	if remaining != 0 {
		return &SizeMismatch{Path: b.Path, Expected: int64(b.File.Info.Size), Actual: int64(b.File.Info.Size - remaining)}
	}
	return nil
}

func decryptSector(cp crypto.Provider, spec ImageSpec, plain, ciphertext, key, iv []byte) error {
	var err error
	switch {
	case spec.UsesCtr():
		err = cp.AesCtrDecrypt(plain, ciphertext, key, iv)
	default:
		err = cp.AesCbcDecrypt(plain, ciphertext, key, iv)
	}
	if err != nil {
		return &CryptoFailure{Op: "decrypt_sector", Err: err}
	}
	return nil
}

// VerifyMerkleRoot folds a table's internal-node ICVs bottom-up and checks
// they resolve to the table's recorded signature, for tables large enough
// to carry an internal-node layer (NumSectors > Arity).
func VerifyMerkleRoot(cp crypto.Provider, secretKey []byte, t *icvdb.Table) error {
	if t.NumSectors <= t.Arity || len(t.NodeIcvs) == 0 {
		return nil
	}

	level := t.LeafIcvs
	nodes := t.NodeIcvs
	for len(level) > 1 {
		nextCount := (len(level) + int(t.Arity) - 1) / int(t.Arity)
		if len(nodes) < nextCount {
			return &MerkleRootInvalid{IcvSalt: t.IcvSalt}
		}
		next := nodes[:nextCount]
		nodes = nodes[nextCount:]

		for i := 0; i < nextCount; i++ {
			lo := i * int(t.Arity)
			hi := lo + int(t.Arity)
			if hi > len(level) {
				hi = len(level)
			}
			buf := make([]byte, 0, (hi-lo)*icvdb.IcvSize)
			for _, icv := range level[lo:hi] {
				buf = append(buf, icv[:]...)
			}
			mac, err := cp.HmacSha1(secretKey, buf)
			if err != nil {
				return &CryptoFailure{Op: "merkle_fold", Err: err}
			}
			if !bytesEqual(mac, next[i][:]) {
				return &MerkleRootInvalid{IcvSalt: t.IcvSalt}
			}
		}
		level = next
	}

	if !bytesEqual(level[0][:], t.Signature[:]) {
		return &MerkleRootInvalid{IcvSalt: t.IcvSalt}
	}
	return nil
}
