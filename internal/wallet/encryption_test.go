package wallet

import (
	"bytes"
	"errors"
	"testing"
)

// fastParams keeps Argon2 cheap in tests.
func fastParams() EncryptionParams {
	return EncryptionParams{Memory: 1024, Iterations: 1, Parallelism: 1}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	for _, size := range []int{0, 64, 4096} {
		data := bytes.Repeat([]byte{0xab}, size)
		sealed, err := Encrypt(data, []byte("pw"), fastParams())
		if err != nil {
			t.Fatalf("Encrypt() error: %v", err)
		}
		got, err := Decrypt(sealed, []byte("pw"))
		if err != nil {
			t.Fatalf("Decrypt() error: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("size %d: roundtrip mismatch", size)
		}
	}
}

func TestDecrypt_WrongPassword(t *testing.T) {
	sealed, err := Encrypt([]byte("seed"), []byte("right"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if _, err := Decrypt(sealed, []byte("wrong")); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Decrypt() error = %v, want ErrDecrypt", err)
	}
}

func TestDecrypt_TamperedHeader(t *testing.T) {
	sealed, err := Encrypt([]byte("seed"), []byte("pw"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	sealed[5] ^= 0xff // inside the salt
	if _, err := Decrypt(sealed, []byte("pw")); err == nil {
		t.Error("Decrypt() should fail when the header is modified")
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	if _, err := Decrypt([]byte{1, 2, 3}, []byte("pw")); err == nil {
		t.Error("expected error for truncated data")
	}
	sealed, _ := Encrypt([]byte("seed"), []byte("pw"), fastParams())
	sealed[0] = 9
	if _, err := Decrypt(sealed, []byte("pw")); err == nil {
		t.Error("expected error for unknown version")
	}
}

func TestEncrypt_DifferentEachTime(t *testing.T) {
	a, _ := Encrypt([]byte("seed"), []byte("pw"), fastParams())
	b, _ := Encrypt([]byte("seed"), []byte("pw"), fastParams())
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same data should differ")
	}
}
