package pfs

import "testing"

func TestErrorPredicates(t *testing.T) {
	cases := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"io", &IoError{Op: "read", Path: "x", Err: errTest}, IsIoError},
		{"format", &FormatError{Path: "x"}, IsFormatError},
		{"header icv", &HeaderIcvInvalid{Path: "x"}, IsHeaderIcvInvalid},
		{"hash tree", &HashTreeInvalid{BlockIndex: 1}, IsHashTreeInvalid},
		{"sector icv", &SectorIcvInvalid{Path: "x", SectorIndex: 1}, IsSectorIcvInvalid},
		{"merkle root", &MerkleRootInvalid{IcvSalt: 1}, IsMerkleRootInvalid},
		{"index", &IndexInvalid{Field: "f", Value: 1}, IsIndexInvalid},
		{"path unresolved", &PathUnresolved{LogicalPath: "x"}, IsPathUnresolved},
		{"size mismatch", &SizeMismatch{Path: "x"}, IsSizeMismatch},
		{"page binding", &PageBindingFailed{IcvSalt: 1}, IsPageBindingFailed},
		{"crypto", &CryptoFailure{Op: "x", Err: errTest}, IsCryptoFailure},
		{"key unknown", &KeyUnknown{}, IsKeyUnknown},
		{"aborted", &Aborted{Reason: "x"}, IsAborted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !tc.is(tc.err) {
				t.Errorf("predicate returned false for %T", tc.err)
			}
			if tc.err.Error() == "" {
				t.Error("Error() returned empty string")
			}
		})
	}
}

var errTest = &FormatError{Path: "inner", Message: "boom"}
