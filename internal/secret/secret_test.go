package secret

import (
	"bytes"
	"testing"

	"github.com/psvpfs/pfsdec/internal/crypto"
	"github.com/psvpfs/pfsdec/internal/keyenc"
)

func testKeyEncryptor() keyenc.Encryptor {
	return &keyenc.NativeEncryptor{
		Wrap: func(seed [16]byte) ([16]byte, error) {
			var out [16]byte
			for i := range out {
				out[i] = seed[i] ^ 0x5A
			}
			return out, nil
		},
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	cp := crypto.New()
	ke := testKeyEncryptor()
	var klicensee [16]byte
	for i := range klicensee {
		klicensee[i] = byte(i)
	}
	var salt [16]byte

	a, err := Derive(cp, ke, klicensee, KindFiles, 0, salt)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	b, err := Derive(cp, ke, klicensee, KindFiles, 0, salt)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("Derive is not deterministic: %x != %x", a, b)
	}
	if len(a) != Size {
		t.Errorf("Derive returned %d bytes, want %d", len(a), Size)
	}
}

func TestDeriveVariesByKind(t *testing.T) {
	cp := crypto.New()
	ke := testKeyEncryptor()
	var klicensee [16]byte
	var salt [16]byte

	files, err := Derive(cp, ke, klicensee, KindFiles, 0, salt)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	icv, err := Derive(cp, ke, klicensee, KindICV, 0, salt)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if bytes.Equal(files, icv) {
		t.Error("KindFiles and KindICV produced the same secret")
	}
}

func TestDeriveVariesByIndex(t *testing.T) {
	cp := crypto.New()
	ke := testKeyEncryptor()
	var klicensee [16]byte
	var salt [16]byte

	a, err := Derive(cp, ke, klicensee, KindICV, 1, salt)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	b, err := Derive(cp, ke, klicensee, KindICV, 2, salt)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("different indices produced the same secret")
	}
}

func TestDeriveVariesBySalt(t *testing.T) {
	cp := crypto.New()
	ke := testKeyEncryptor()
	var klicensee [16]byte
	var saltA, saltB [16]byte
	saltB[0] = 0x01

	a, err := Derive(cp, ke, klicensee, KindFiles, 0, saltA)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	b, err := Derive(cp, ke, klicensee, KindFiles, 0, saltB)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("different salts produced the same secret")
	}
}

func TestDeriveUnknownKind(t *testing.T) {
	cp := crypto.New()
	ke := testKeyEncryptor()
	var klicensee [16]byte
	var salt [16]byte
	if _, err := Derive(cp, ke, klicensee, Kind(99), 0, salt); err == nil {
		t.Error("expected error for unknown kind")
	}
}
