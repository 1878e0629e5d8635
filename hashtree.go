package pfs

import (
	"fmt"

	"github.com/psvpfs/pfsdec/internal/crypto"
)

// calculateNodeIcv is the files.db analogue of calculate_node_icv: an
// HMAC-SHA1 of a block's raw page bytes under the derived files-tree
// secret, salted by the block's type so root and child pages can never be
// confused for one another.
func calculateNodeIcv(cp crypto.Provider, secret []byte, b *Block) ([]byte, error) {
	salted := make([]byte, 0, len(b.Raw)+4)
	salted = append(salted, byte(b.Header.Type), byte(b.Header.Type>>8), byte(b.Header.Type>>16), byte(b.Header.Type>>24))
	salted = append(salted, b.Raw[:]...)

	mac, err := cp.HmacSha1(secret, salted)
	if err != nil {
		return nil, &CryptoFailure{Op: "calculate_node_icv", Err: err}
	}
	return mac, nil
}

// validateHashTree walks the files.db tree from the root page down,
// checking that each child's recorded hash (in its parent's Hash[] slots)
// matches the child's own computed ICV.
func validateHashTree(blocks map[uint32]*Block, nodeIcvs map[uint32][]byte, rootPage uint32, rootIcv []byte) error {
	root, ok := blocks[rootPage]
	if !ok {
		return &IndexInvalid{Field: "root_icv_page_number", Value: rootPage}
	}
	computed, ok := nodeIcvs[rootPage]
	if !ok {
		return &HashTreeInvalid{BlockIndex: rootPage}
	}
	if !bytesEqual(computed, rootIcv) {
		return &HashTreeInvalid{BlockIndex: rootPage}
	}
	return validateSubtree(blocks, nodeIcvs, root)
}

func validateSubtree(blocks map[uint32]*Block, nodeIcvs map[uint32][]byte, parent *Block) error {
	children := childrenByParent(blocks, parent.PageNumber)
	if len(children) > BtOrder {
		return &FormatError{Path: "files.db", Message: fmt.Sprintf("page %d has more than %d children", parent.PageNumber, BtOrder)}
	}

	for i, child := range children {
		computed, ok := nodeIcvs[child.PageNumber]
		if !ok {
			return &HashTreeInvalid{BlockIndex: child.PageNumber}
		}
		if i >= MaxFilesInBlock {
			return &HashTreeInvalid{BlockIndex: child.PageNumber}
		}
		if !bytesEqual(computed, parent.Hashes[i][:]) {
			return &HashTreeInvalid{BlockIndex: child.PageNumber}
		}
		if err := validateSubtree(blocks, nodeIcvs, child); err != nil {
			return err
		}
	}
	return nil
}

// childrenByParent returns every block whose ParentPageNumber equals
// parent, sorted by page number for deterministic slot-index comparison.
func childrenByParent(blocks map[uint32]*Block, parent uint32) []*Block {
	var out []*Block
	for _, b := range blocks {
		if b.PageNumber != parent && b.Header.ParentPageNumber == parent {
			out = append(out, b)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].PageNumber < out[j-1].PageNumber; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
