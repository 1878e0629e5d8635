// Package crypto defines the cryptographic primitive surface the PFS
// decryptor runs on: AES in CBC/CTR/ECB mode, AES-CMAC, SHA1/SHA256 and
// their HMAC variants, all restricted to 128-bit keys as the console
// firmware requires.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
)

// KeySize is the only key length the provider accepts.
const KeySize = 16

// Failure wraps any primitive failure into the single CryptoFailure error
// kind; no partial output is guaranteed once returned.
type Failure struct {
	Op  string
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("crypto failure in %s: %v", f.Op, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(op string, err error) error {
	return &Failure{Op: op, Err: err}
}

// Provider is the capability set consumed by the rest of the decryptor.
// Implementations must tolerate aliased input/output buffers.
type Provider interface {
	AesCbcEncrypt(dst, src, key, iv []byte) error
	AesCbcDecrypt(dst, src, key, iv []byte) error

	// AesCtrEncrypt and AesCtrDecrypt are the same operation (CTR is its
	// own inverse); iv is mutated in place, advanced by len(src)/16 as a
	// 128-bit big-endian counter, so the caller can chain calls across
	// sectors without re-deriving the counter.
	AesCtrEncrypt(dst, src, key, iv []byte) error
	AesCtrDecrypt(dst, src, key, iv []byte) error

	AesEcbEncrypt(dst, src, key []byte) error
	AesEcbDecrypt(dst, src, key []byte) error

	AesCmac(key, src []byte) ([]byte, error)

	Sha1(src []byte) ([]byte, error)
	Sha256(src []byte) ([]byte, error)

	HmacSha1(key, src []byte) ([]byte, error)
	HmacSha256(key, src []byte) ([]byte, error)
}

// provider is the standard-library backed implementation. It holds no
// mutable state, so a single instance may be shared across goroutines;
// callers that need a stateful engine per worker (as the concurrency
// model requires for e.g. a reused cipher.BlockMode) should construct a
// fresh provider per worker instead of sharing one.
type provider struct{}

// New returns the standard-library backed Provider.
func New() Provider {
	return provider{}
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return aes.NewCipher(key)
}

func (provider) AesCbcEncrypt(dst, src, key, iv []byte) error {
	block, err := newBlock(key)
	if err != nil {
		return fail("aes_cbc_encrypt", err)
	}
	if len(src)%aes.BlockSize != 0 {
		return fail("aes_cbc_encrypt", fmt.Errorf("input length %d not a multiple of block size", len(src)))
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(dst, src)
	return nil
}

func (provider) AesCbcDecrypt(dst, src, key, iv []byte) error {
	block, err := newBlock(key)
	if err != nil {
		return fail("aes_cbc_decrypt", err)
	}
	if len(src)%aes.BlockSize != 0 {
		return fail("aes_cbc_decrypt", fmt.Errorf("input length %d not a multiple of block size", len(src)))
	}
	// Buffers may alias: CBC decrypt needs the ciphertext's final block as
	// the next IV, so save it before CryptBlocks can overwrite it in dst.
	var nextIV [aes.BlockSize]byte
	if len(src) >= aes.BlockSize {
		copy(nextIV[:], src[len(src)-aes.BlockSize:])
	}
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(dst, src)
	if len(src) >= aes.BlockSize {
		copy(iv, nextIV[:])
	}
	return nil
}

func ctrIncrement(iv []byte, blocks uint64) {
	carry := blocks
	for i := len(iv) - 1; i >= 0 && carry != 0; i-- {
		sum := uint64(iv[i]) + (carry & 0xff)
		iv[i] = byte(sum)
		carry = (carry >> 8) + (sum >> 8)
	}
}

func (provider) aesCtr(dst, src, key, iv []byte) error {
	block, err := newBlock(key)
	if err != nil {
		return fail("aes_ctr", err)
	}
	if len(iv) != aes.BlockSize {
		return fail("aes_ctr", fmt.Errorf("iv must be %d bytes, got %d", aes.BlockSize, len(iv)))
	}
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(dst, src)
	ctrIncrement(iv, uint64(len(src))/aes.BlockSize)
	return nil
}

func (p provider) AesCtrEncrypt(dst, src, key, iv []byte) error { return p.aesCtr(dst, src, key, iv) }
func (p provider) AesCtrDecrypt(dst, src, key, iv []byte) error { return p.aesCtr(dst, src, key, iv) }

func (provider) AesEcbEncrypt(dst, src, key []byte) error {
	block, err := newBlock(key)
	if err != nil {
		return fail("aes_ecb_encrypt", err)
	}
	if len(src)%aes.BlockSize != 0 {
		return fail("aes_ecb_encrypt", fmt.Errorf("input length %d not a multiple of block size", len(src)))
	}
	for off := 0; off < len(src); off += aes.BlockSize {
		block.Encrypt(dst[off:off+aes.BlockSize], src[off:off+aes.BlockSize])
	}
	return nil
}

func (provider) AesEcbDecrypt(dst, src, key []byte) error {
	block, err := newBlock(key)
	if err != nil {
		return fail("aes_ecb_decrypt", err)
	}
	if len(src)%aes.BlockSize != 0 {
		return fail("aes_ecb_decrypt", fmt.Errorf("input length %d not a multiple of block size", len(src)))
	}
	for off := 0; off < len(src); off += aes.BlockSize {
		block.Decrypt(dst[off:off+aes.BlockSize], src[off:off+aes.BlockSize])
	}
	return nil
}

func (provider) AesCmac(key, src []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, fail("aes_cmac", err)
	}
	return cmac(block, src), nil
}

func (provider) Sha1(src []byte) ([]byte, error) {
	sum := sha1.Sum(src)
	return sum[:], nil
}

func (provider) Sha256(src []byte) ([]byte, error) {
	sum := sha256.Sum256(src)
	return sum[:], nil
}

func (provider) HmacSha1(key, src []byte) ([]byte, error) {
	mac := hmac.New(sha1.New, key)
	mac.Write(src)
	return mac.Sum(nil), nil
}

func (provider) HmacSha256(key, src []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, key)
	mac.Write(src)
	return mac.Sum(nil), nil
}
