// Package icvdb parses the integrity databases that accompany a files.db:
// the unified unicv.db (one blob holding every table) and the split icv.db
// directory (one file per table), exposing both behind a single iteration
// interface so the rest of the decryptor never needs to know which layout
// an image uses.
package icvdb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// IcvSize is the width of one ICV tag (HMAC-SHA1 output).
const IcvSize = 20

// Table is one integrity table: a per-sector ICV list, optionally backed by
// an internal-node Merkle layer when num_sectors exceeds the tree arity.
// A table with NumSectors == 0 is valid and represents an empty file.
type Table struct {
	// IcvSalt is the page number inside unicv.db for the unified layout, or
	// a hash of the protected file's name for the split layout.
	IcvSalt    uint64
	SectorSize uint32
	NumSectors uint32
	Arity      uint32
	Signature  [IcvSize]byte
	LeafIcvs   [][IcvSize]byte
	NodeIcvs   [][IcvSize]byte
}

// unifiedTableHeaderSize is the fixed-size header preceding each table's
// ICV payload inside unicv.db: icv_salt(8) + sector_size(4) + num_sectors(4)
// + arity(4) + signature(20).
const unifiedTableHeaderSize = 40

// unifiedDbHeaderSize is the fixed header at the start of unicv.db.
const unifiedDbHeaderSize = 16

// Database is the common surface both layouts expose.
type Database interface {
	// Tables returns every integrity table in iteration order.
	Tables() []*Table
}

type memDatabase struct {
	tables []*Table
}

func (m *memDatabase) Tables() []*Table { return m.tables }

// ParseUnified parses a unicv.db blob: a fixed header followed by a
// sequence of table chunks, each its own header plus leaf ICVs and,
// when NumSectors > Arity, a level-by-level internal-node ICV region.
func ParseUnified(r io.Reader) (Database, error) {
	var hdr [unifiedDbHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("icvdb: unified header: %w", err)
	}
	tableCount := binary.LittleEndian.Uint32(hdr[0:4])

	db := &memDatabase{tables: make([]*Table, 0, tableCount)}
	for i := uint32(0); i < tableCount; i++ {
		t, err := parseUnifiedTable(r)
		if err != nil {
			return nil, fmt.Errorf("icvdb: table %d: %w", i, err)
		}
		db.tables = append(db.tables, t)
	}
	return db, nil
}

func parseUnifiedTable(r io.Reader) (*Table, error) {
	var hdr [unifiedTableHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	t := &Table{
		IcvSalt:    binary.LittleEndian.Uint64(hdr[0:8]),
		SectorSize: binary.LittleEndian.Uint32(hdr[8:12]),
		NumSectors: binary.LittleEndian.Uint32(hdr[12:16]),
		Arity:      binary.LittleEndian.Uint32(hdr[16:20]),
	}
	copy(t.Signature[:], hdr[unifiedTableHeaderSize-IcvSize:])

	if t.NumSectors == 0 {
		return t, nil
	}
	if t.Arity == 0 {
		return nil, fmt.Errorf("zero merkle arity for non-empty table")
	}

	leaves, err := readIcvList(r, t.NumSectors)
	if err != nil {
		return nil, fmt.Errorf("leaf icvs: %w", err)
	}
	t.LeafIcvs = leaves

	if t.NumSectors > t.Arity {
		nodeCount := internalNodeCount(t.NumSectors, t.Arity)
		nodes, err := readIcvList(r, nodeCount)
		if err != nil {
			return nil, fmt.Errorf("node icvs: %w", err)
		}
		t.NodeIcvs = nodes
	}

	return t, nil
}

// internalNodeCount sums the size of every internal Merkle level above the
// leaves, level by level, given arity-way fan-in.
func internalNodeCount(numLeaves, arity uint32) uint32 {
	var total uint32
	level := numLeaves
	for level > 1 {
		level = (level + arity - 1) / arity
		total += level
	}
	return total
}

func readIcvList(r io.Reader, count uint32) ([][IcvSize]byte, error) {
	out := make([][IcvSize]byte, count)
	for i := range out {
		if _, err := io.ReadFull(r, out[i][:]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ParseSplit parses one icv.db/ directory entry. The split layout stores
// exactly one table per file, using the same per-table wire format as the
// unified layout minus the outer database header.
func ParseSplit(name string, r io.Reader, nameHash uint64) (*Table, error) {
	t, err := parseUnifiedTable(r)
	if err != nil {
		return nil, fmt.Errorf("icvdb: split table %q: %w", name, err)
	}
	t.IcvSalt = nameHash
	return t, nil
}

// NewSplitDatabase assembles a Database from already-parsed split tables,
// one per icv.db/ directory entry.
func NewSplitDatabase(tables []*Table) Database {
	return &memDatabase{tables: tables}
}
