// Package keyenc models F00D, the console's key-wrapping black box: given a
// 16-byte seed it returns a 16-byte derived key. The algorithm behind that
// mapping is not reproduced here, only the two ways the parser is known to
// reach it.
package keyenc

import (
	"encoding/hex"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// KeySize is the fixed seed/key length F00D operates on.
const KeySize = 16

// Encryptor is the key-wrapping capability the rest of the decryptor needs.
// A seed that the encryptor cannot resolve must return ErrKeyUnknown so
// callers can surface a KeyUnknown error.
type Encryptor interface {
	EncryptKey(seed [KeySize]byte) ([KeySize]byte, error)
}

// ErrKeyUnknown is returned when a seed has no known derived key.
type ErrKeyUnknown struct {
	Seed [KeySize]byte
}

func (e *ErrKeyUnknown) Error() string {
	return fmt.Sprintf("key encryptor: no mapping for seed %s", hex.EncodeToString(e.Seed[:]))
}

// FileEncryptor is the lookup-table-backed variant: a flat file of
// "seed_hex derived_hex" lines, loaded once and cached in memory. It mirrors
// a hardware encryptor that was run once against every seed the parser ever
// needed and had its answers recorded to disk.
type FileEncryptor struct {
	mu    sync.RWMutex
	cache map[[KeySize]byte][KeySize]byte
}

// NewFileEncryptor builds a FileEncryptor from parsed "seed derived" pairs.
func NewFileEncryptor(pairs map[[KeySize]byte][KeySize]byte) *FileEncryptor {
	cache := make(map[[KeySize]byte][KeySize]byte, len(pairs))
	for k, v := range pairs {
		cache[k] = v
	}
	return &FileEncryptor{cache: cache}
}

// ParseTable parses the lookup-table file format: one "<32 hex> <32 hex>"
// pair per non-empty line, '#' comments allowed.
func ParseTable(lines []string) (map[[KeySize]byte][KeySize]byte, error) {
	out := make(map[[KeySize]byte][KeySize]byte)
	for lineNo, raw := range lines {
		line := trimComment(raw)
		if line == "" {
			continue
		}
		var seedHex, drvHex string
		if _, err := fmt.Sscanf(line, "%s %s", &seedHex, &drvHex); err != nil {
			return nil, fmt.Errorf("key table line %d: %w", lineNo+1, err)
		}
		seed, err := decodeKey(seedHex)
		if err != nil {
			return nil, fmt.Errorf("key table line %d: seed: %w", lineNo+1, err)
		}
		drv, err := decodeKey(drvHex)
		if err != nil {
			return nil, fmt.Errorf("key table line %d: derived: %w", lineNo+1, err)
		}
		out[seed] = drv
	}
	return out, nil
}

func trimComment(line string) string {
	for i, r := range line {
		if r == '#' {
			return trimSpace(line[:i])
		}
	}
	return trimSpace(line)
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }

func decodeKey(s string) ([KeySize]byte, error) {
	var out [KeySize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != KeySize {
		return out, fmt.Errorf("expected %d bytes, got %d", KeySize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// EncryptKey looks up the derived key for seed in the table loaded by
// NewFileEncryptor. Lookups are not recorded, and the table is never added
// to after construction.
func (f *FileEncryptor) EncryptKey(seed [KeySize]byte) ([KeySize]byte, error) {
	f.mu.RLock()
	drv, ok := f.cache[seed]
	f.mu.RUnlock()
	if !ok {
		return [KeySize]byte{}, &ErrKeyUnknown{Seed: seed}
	}
	return drv, nil
}

// LogCache reports every seed/derived-key pair in the loaded table, the Go
// equivalent of the reference tool's print_cache step run after a
// successful decrypt. It lists the whole table, not only the seeds this
// run resolved.
func (f *FileEncryptor) LogCache(logger *zap.Logger) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for seed, drv := range f.cache {
		logger.Debug("f00d cache entry",
			zap.String("seed", hex.EncodeToString(seed[:])),
			zap.String("derived", hex.EncodeToString(drv[:])),
		)
	}
}

// NativeEncryptor wraps a hardware- or service-backed key wrap operation.
// The actual F00D algorithm is an opaque external collaborator; Wrap is
// supplied by whatever native bridge the caller has available, and
// NativeEncryptor only adapts it to the Encryptor interface.
type NativeEncryptor struct {
	Wrap func(seed [KeySize]byte) ([KeySize]byte, error)
}

func (n *NativeEncryptor) EncryptKey(seed [KeySize]byte) ([KeySize]byte, error) {
	if n.Wrap == nil {
		return [KeySize]byte{}, fmt.Errorf("native key encryptor: no backing service configured")
	}
	return n.Wrap(seed)
}
