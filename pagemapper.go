package pfs

import (
	"io"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/psvpfs/pfsdec/internal/crypto"
	"github.com/psvpfs/pfsdec/internal/icvdb"
	"github.com/psvpfs/pfsdec/internal/keyenc"
	"github.com/psvpfs/pfsdec/internal/secret"
)

// Binding pairs one integrity table with the flat file it protects.
type Binding struct {
	Table *icvdb.Table
	File  FlatBlock
	Path  string
}

// MapPages brute-forces the integrity-table-to-file binding: no table
// records which file it belongs to, so every plausible (table, file) pair
// is tried by deriving the per-file secret and comparing the expected
// first-sector ICV to the table's recorded leaf.
//
// Candidates are prefiltered by num_sectors/sector_size so the match is
// near-linear on well-formed images rather than quadratic in tables×files.
func MapPages(
	cp crypto.Provider,
	ke keyenc.Encryptor,
	klicensee Klicensee,
	spec ImageSpec,
	tables []*icvdb.Table,
	files []FlatBlock,
	paths map[uint32]string,
	readFirstSector func(path string, sectorSize uint32) ([]byte, error),
	logger *zap.Logger,
	progress io.Writer,
) ([]Binding, error) {
	var nonEmpty []FlatBlock
	var bindings []Binding

	for _, f := range files {
		if f.Info.Size == 0 {
			continue
		}
		nonEmpty = append(nonEmpty, f)
	}

	bar := progressbar.NewOptions(len(nonEmpty)*len(tables),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("mapping integrity tables"),
		progressbar.OptionThrottle(200),
		progressbar.OptionClearOnFinish(),
	)

	boundTables := make(map[uint64]bool)
	boundFiles := make(map[uint32]bool)

	for _, f := range nonEmpty {
		p := paths[f.Idx]

		var matchedTable *icvdb.Table
		for _, t := range tables {
			_ = bar.Add(1)

			if boundTables[t.IcvSalt] {
				continue
			}
			expectedSectors := ceilDiv(f.Info.Size, uint64(t.SectorSize))
			if uint64(t.NumSectors) != expectedSectors {
				continue
			}

			ok, err := matchesFirstSector(cp, ke, klicensee, spec, f, t, p, readFirstSector)
			if err != nil {
				return nil, err
			}
			if ok {
				matchedTable = t
				break
			}
		}

		if matchedTable == nil {
			return nil, &PageBindingFailed{IcvSalt: 0}
		}

		boundTables[matchedTable.IcvSalt] = true
		boundFiles[f.Idx] = true
		bindings = append(bindings, Binding{Table: matchedTable, File: f, Path: p})
	}

	logger.Info("page mapping complete", zap.Int("bindings", len(bindings)), zap.Int("tables", len(tables)))
	return bindings, nil
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func matchesFirstSector(
	cp crypto.Provider,
	ke keyenc.Encryptor,
	klicensee Klicensee,
	spec ImageSpec,
	f FlatBlock,
	t *icvdb.Table,
	path string,
	readFirstSector func(path string, sectorSize uint32) ([]byte, error),
) (bool, error) {
	if len(t.LeafIcvs) == 0 {
		return false, nil
	}

	ciphertext, err := readFirstSector(path, t.SectorSize)
	if err != nil {
		return false, &IoError{Op: "read", Path: path, Err: err}
	}

	sectorSecret, err := deriveSectorSecret(cp, ke, klicensee, f.Info.FileSalt, t.IcvSalt, 0)
	if err != nil {
		return false, err
	}

	plain := make([]byte, len(ciphertext))
	iv := f.Info.FileIv
	if err := decryptSector(cp, spec, plain, ciphertext, sectorSecret[:16], iv[:]); err != nil {
		return false, err
	}

	mac, err := cp.HmacSha1(sectorSecret, plain)
	if err != nil {
		return false, &CryptoFailure{Op: "hmac_sha1", Err: err}
	}

	return bytesEqual(mac, t.LeafIcvs[0][:]), nil
}

// deriveSectorSecret composes the per-sector key material from the image
// klicensee, the file's per-file salt, the binding table's icv_salt, and
// the sector index, per the files.db secret-derivation scheme generalized
// to sector granularity.
func deriveSectorSecret(cp crypto.Provider, ke keyenc.Encryptor, klicensee Klicensee, fileSalt [16]byte, icvSalt uint64, sectorIndex uint32) ([]byte, error) {
	index := uint32(icvSalt) ^ sectorIndex
	s, err := secret.Derive(cp, ke, [16]byte(klicensee), secret.KindICV, index, fileSalt)
	if err != nil {
		return nil, &CryptoFailure{Op: "derive_sector_secret", Err: err}
	}
	return s, nil
}
