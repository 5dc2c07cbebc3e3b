package wallet

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testKeystore(t *testing.T) *Keystore {
	t.Helper()
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeystore() error: %v", err)
	}
	return ks
}

func TestKeystore_CreateAndLoad(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeed(t)

	if err := ks.Create("clinic", seed, []byte("pw"), fastParams()); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	loaded, err := ks.Load("clinic", []byte("pw"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !bytes.Equal(loaded, seed) {
		t.Error("loaded seed does not match original")
	}

	if err := ks.Create("clinic", seed, []byte("pw"), fastParams()); err == nil {
		t.Error("second Create() should fail for duplicate name")
	}
	if _, err := ks.Load("clinic", []byte("wrong")); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Load() wrong password error = %v", err)
	}
	if _, err := ks.Load("missing", []byte("pw")); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("Load() missing error = %v", err)
	}
}

func TestKeystore_InvalidName(t *testing.T) {
	ks := testKeystore(t)
	for _, name := range []string{"", "../escape", "a/b"} {
		if err := ks.Create(name, testSeed(t), []byte("pw"), fastParams()); err == nil {
			t.Errorf("Create(%q) should fail", name)
		}
	}
}

func TestKeystore_Accounts(t *testing.T) {
	ks := testKeystore(t)
	ks.Create("w", testSeed(t), []byte("pw"), fastParams())

	a0 := AccountEntry{Index: 0, Name: "Account 1", Address: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}
	a1 := AccountEntry{Index: 1, Name: "Account 2", Address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}
	if err := ks.AddAccount("w", a0); err != nil {
		t.Fatalf("AddAccount() error: %v", err)
	}
	if err := ks.AddAccount("w", a0); err != nil {
		t.Errorf("re-adding the same account should be a no-op: %v", err)
	}
	if err := ks.AddAccount("w", a1); err != nil {
		t.Fatalf("AddAccount() error: %v", err)
	}
	if err := ks.AddAccount("w", AccountEntry{Index: 1, Address: "0x0000000000000000000000000000000000000001"}); err == nil {
		t.Error("AddAccount() with a taken index should fail")
	}

	accts, err := ks.ListAccounts("w")
	if err != nil {
		t.Fatalf("ListAccounts() error: %v", err)
	}
	if len(accts) != 2 || accts[1].Name != "Account 2" {
		t.Errorf("ListAccounts() = %+v", accts)
	}
	next, _ := ks.NextIndex("w")
	if next != 2 {
		t.Errorf("NextIndex() = %d, want 2", next)
	}
}

func TestKeystore_ConnectionState(t *testing.T) {
	ks := testKeystore(t)
	ks.Create("w", testSeed(t), []byte("pw"), fastParams())
	addr := "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	ks.AddAccount("w", AccountEntry{Index: 0, Address: addr})

	if ok, _ := ks.Authorized("w"); ok {
		t.Error("new wallet should not be authorized")
	}
	if err := ks.SetAuthorized("w", true); err != nil {
		t.Fatalf("SetAuthorized() error: %v", err)
	}
	if ok, _ := ks.Authorized("w"); !ok {
		t.Error("Authorized() = false after SetAuthorized(true)")
	}

	if err := ks.SetSelected("w", "0xF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266"); err != nil {
		t.Fatalf("SetSelected() error: %v", err)
	}
	if sel, _ := ks.Selected("w"); sel != addr {
		t.Errorf("Selected() = %q, want %q", sel, addr)
	}
	if err := ks.SetSelected("w", "0x0000000000000000000000000000000000000001"); err == nil {
		t.Error("SetSelected() for unknown account should fail")
	}
}

func TestKeystore_ListAndDelete(t *testing.T) {
	ks := testKeystore(t)
	ks.Create("a", testSeed(t), []byte("pw"), fastParams())
	ks.Create("b", testSeed(t), []byte("pw"), fastParams())
	os.WriteFile(filepath.Join(ks.Dir(), "notes.txt"), []byte("x"), 0600)

	names, err := ks.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("List() = %v, want 2 wallets", names)
	}

	if err := ks.Delete("a"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if ks.Exists("a") {
		t.Error("wallet still exists after Delete()")
	}
	if err := ks.Delete("a"); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("Delete() twice error = %v", err)
	}
}

func TestKeystore_FilePermissions(t *testing.T) {
	ks := testKeystore(t)
	ks.Create("perm", testSeed(t), []byte("pw"), fastParams())
	info, err := os.Stat(filepath.Join(ks.Dir(), "perm.wallet"))
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("wallet file permissions = %o, want 600", perm)
	}
}
