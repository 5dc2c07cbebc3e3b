package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blockmed/blockmed/internal/devchain"
	klog "github.com/blockmed/blockmed/internal/log"
	"github.com/blockmed/blockmed/internal/qrpayload"
	"github.com/blockmed/blockmed/internal/rpc"
	"github.com/blockmed/blockmed/internal/rxerr"
	"github.com/blockmed/blockmed/internal/storage"
	"github.com/blockmed/blockmed/internal/wallet"
)

// cliEnv is a devnet plus an isolated data directory.
type cliEnv struct {
	url     string
	dataDir string
	envFile string
}

func setupTestEnv(t *testing.T) *cliEnv {
	t.Helper()
	klog.Init("error", false, "")

	ch, err := devchain.New(storage.NewMemory(), devchain.DefaultConfig())
	if err != nil {
		t.Fatalf("create chain: %v", err)
	}
	srv := rpc.New("127.0.0.1:0", ch)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	dir := t.TempDir()
	return &cliEnv{
		url:     fmt.Sprintf("http://%s/", srv.Addr()),
		dataDir: filepath.Join(dir, "data"),
		envFile: filepath.Join(dir, "missing.env"),
	}
}

// run executes one blockmed invocation and returns its stdout.
func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(stdin), &out, &errOut)
	a.params = wallet.EncryptionParams{Memory: 1024, Iterations: 1, Parallelism: 1}
	a.password = func(string, bool) ([]byte, error) { return []byte("correct horse"), nil }

	root := a.rootCmd()
	root.SetArgs(append([]string{
		"--datadir", e.dataDir,
		"--env", e.envFile,
		"--rpc", e.url,
		"--log-level", "error",
	}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := e.run(t, stdin, args...)
	if err != nil {
		t.Fatalf("blockmed %s: %v\noutput:\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func assertContains(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
}

func TestShortAddress(t *testing.T) {
	addr := common.HexToAddress("0x1234567890abcdef1234567890abcdef1234abcd")
	full := addr.Hex()
	got := shortAddress(addr)
	if want := full[:6] + "..." + full[len(full)-4:]; got != want {
		t.Errorf("shortAddress = %q, want %q", got, want)
	}
	// Checksum casing is kept; the characters are the address's own.
	if !strings.EqualFold(got, "0x1234...abcd") {
		t.Errorf("shortAddress = %q, want 0x1234...abcd in any case", got)
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID(" 42 "); err != nil || id != 42 {
		t.Errorf("parseID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-1", "abc", "1.5"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("parseID(%q) should fail", bad)
		}
	}
}

func TestMatchAccount(t *testing.T) {
	a0 := common.HexToAddress("0x00000000000000000000000000000000000000a0")
	a1 := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	accounts := []wallet.AccountEntry{
		{Index: 0, Name: "Account 1", Address: a0.Hex()},
		{Index: 1, Name: "Account 2", Address: a1.Hex()},
	}

	if got, err := matchAccount(accounts, "1"); err != nil || got != a1 {
		t.Errorf("by index = %s, %v", got.Hex(), err)
	}
	if got, err := matchAccount(accounts, strings.ToLower(a0.Hex())); err != nil || got != a0 {
		t.Errorf("by address = %s, %v", got.Hex(), err)
	}
	if _, err := matchAccount(accounts, "7"); err == nil {
		t.Error("unknown index should fail")
	}
	if _, err := matchAccount(accounts, "0x00000000000000000000000000000000000000ff"); err == nil {
		t.Error("foreign address should fail")
	}
	if _, err := matchAccount(accounts, "first"); err == nil {
		t.Error("garbage reference should fail")
	}
}

func TestTerminalApprover(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		ap := &terminalApprover{in: bufio.NewReader(strings.NewReader(tt.input)), out: &out}
		got, err := ap.ApproveConnection(context.Background(), []common.Address{{1}})
		if err != nil {
			t.Fatalf("input %q: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("input %q: approved = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Connect? [y/N]") {
			t.Errorf("prompt not shown: %q", out.String())
		}
	}
}

func TestHint(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{rxerr.New(rxerr.ProviderAbsent, "op", "x"), "wallet create"},
		{rxerr.New(rxerr.UserRejected, "op", "x"), "blockmed connect"},
		{rxerr.New(rxerr.InvalidAddress, "op", "x"), "contract address"},
		{rxerr.New(rxerr.NotFound, "op", "x"), "prescription ID"},
		{rxerr.New(rxerr.LedgerError, "op", "x"), ""},
		{errors.New("plain"), ""},
	}
	for _, tt := range tests {
		got := hint(tt.err, nil)
		if tt.want == "" && got != "" {
			t.Errorf("hint(%v) = %q, want none", tt.err, got)
		}
		if tt.want != "" && !strings.Contains(got, tt.want) {
			t.Errorf("hint(%v) = %q, want mention of %q", tt.err, got, tt.want)
		}
	}

	var buf bytes.Buffer
	printError(&buf, rxerr.New(rxerr.NotFound, "ledger.fetch", "record 9 does not exist"), nil)
	assertContains(t, buf.String(), "Error: ledger.fetch: record 9 does not exist", "Hint: Check the prescription ID.")
}

func TestDoctorAndPharmacyFlow(t *testing.T) {
	env := setupTestEnv(t)

	out := env.mustRun(t, "", "wallet", "create")
	assertContains(t, out, "Mnemonic (write this down!):", "Wallet created: default", "Address: 0x")

	out = env.mustRun(t, "y\n", "connect")
	assertContains(t, out, "Connected: 0x", "Network:   Hardhat Local (chain 31337)")

	qrFile := filepath.Join(t.TempDir(), "rx.png")
	out = env.mustRun(t, "", "--yes", "rx", "add", "--patient", "patient-abc", "--ipfs", "QmDoc1", "--qr-out", qrFile, "--no-qr")
	assertContains(t, out,
		"Transaction: 0x",
		"Prescription #1 recorded in block 1",
		`QR data: {"prescriptionId":"1","patientHash":"patient-abc","ipfsHash":"QmDoc1"}`,
		"QR image written to "+qrFile,
	)
	if strings.Contains(out, "Explorer:") {
		t.Error("localhost has no explorer link")
	}
	img, err := os.ReadFile(qrFile)
	if err != nil {
		t.Fatalf("read qr image: %v", err)
	}
	if !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Error("qr image is not a PNG")
	}

	out = env.mustRun(t, "", "rx", "get", "1")
	assertContains(t, out, "Prescription #1", "Patient: patient-abc", "IPFS:    QmDoc1", "Status:  Pending")

	data, err := qrpayload.Encode(qrpayload.Payload{PrescriptionID: "1", PatientHash: "patient-abc", IPFSHash: "QmDoc1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out = env.mustRun(t, data, "qr", "decode", "--load")
	assertContains(t, out, "Prescription ID: 1", "Status:  Pending")

	out = env.mustRun(t, "y\n", "rx", "verify", "1")
	assertContains(t, out, "Prescription #1 verified in block 2", "Status:  Verified")

	_, err = env.run(t, "", "--yes", "rx", "verify", "1")
	if rxerr.KindOf(err) != rxerr.LedgerError {
		t.Errorf("second verify: err = %v, want LedgerError", err)
	}

	_, err = env.run(t, "", "rx", "get", "99")
	if rxerr.KindOf(err) != rxerr.NotFound {
		t.Errorf("unknown id: err = %v, want NotFound", err)
	}

	out = env.mustRun(t, "", "rx", "count")
	if strings.TrimSpace(out) != "1" {
		t.Errorf("count = %q, want 1", out)
	}

	out = env.mustRun(t, "", "rx", "history")
	assertContains(t, out, "added", "verified", "patient=patient-abc ipfs=QmDoc1")

	out = env.mustRun(t, "", "status")
	assertContains(t, out,
		"Network:  Hardhat Local (localhost, chain 31337)",
		"Ledger:   "+env.url+" ("+rpc.ClientVersion+")",
		"Height:   2",
		"Records:  1",
		"Wallet:   default (connected as 0x",
	)
}

func TestQRDecodeMismatch(t *testing.T) {
	env := setupTestEnv(t)
	env.mustRun(t, "", "wallet", "create")
	env.mustRun(t, "", "--yes", "rx", "add", "--patient", "p1", "--ipfs", "QmA", "--no-qr")

	forged := `{"prescriptionId":"1","patientHash":"p1","ipfsHash":"QmForged"}`
	out, err := env.run(t, "", "qr", "decode", forged, "--load")
	if err == nil || !strings.Contains(err.Error(), "IPFS hash") {
		t.Fatalf("expected IPFS mismatch, got %v", err)
	}
	assertContains(t, out, "IPFS hash:       QmForged", "IPFS:    QmA")

	if _, err := env.run(t, "", "qr", "decode", `{"prescriptionId":"x"}`); !errors.Is(err, qrpayload.ErrInvalidPayload) {
		t.Errorf("malformed payload: err = %v", err)
	}
}

func TestQREncode(t *testing.T) {
	env := setupTestEnv(t)
	out := env.mustRun(t, "", "qr", "encode", "--id", "7", "--patient", "p", "--ipfs", "Qm")
	assertContains(t, out, `QR data: {"prescriptionId":"7","patientHash":"p","ipfsHash":"Qm"}`)
	if strings.Count(out, "\n") < 10 {
		t.Errorf("terminal QR missing:\n%s", out)
	}

	if _, err := env.run(t, "", "qr", "encode", "--id", "0", "--patient", "p", "--ipfs", "Qm"); !errors.Is(err, qrpayload.ErrInvalidPayload) {
		t.Errorf("id 0: err = %v", err)
	}
}

func TestNoWallet(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.run(t, "", "--yes", "rx", "add", "--patient", "p", "--ipfs", "Qm")
	if rxerr.KindOf(err) != rxerr.ProviderAbsent {
		t.Fatalf("err = %v, want ProviderAbsent", err)
	}
	if !errors.Is(err, wallet.ErrWalletNotFound) {
		t.Errorf("cause should be ErrWalletNotFound: %v", err)
	}

	out := env.mustRun(t, "", "status")
	assertContains(t, out, "Wallet:   not installed")
}

func TestConnectRejected(t *testing.T) {
	env := setupTestEnv(t)
	env.mustRun(t, "", "wallet", "create")

	_, err := env.run(t, "n\n", "connect")
	if rxerr.KindOf(err) != rxerr.UserRejected {
		t.Fatalf("err = %v, want UserRejected", err)
	}
	out := env.mustRun(t, "", "status")
	assertContains(t, out, "Wallet:   default (not connected)")
}

func TestSignatureRejected(t *testing.T) {
	env := setupTestEnv(t)
	env.mustRun(t, "", "wallet", "create")
	env.mustRun(t, "y\n", "connect")

	// Already authorized: the only prompt is the signature, declined here.
	_, err := env.run(t, "n\n", "rx", "add", "--patient", "p", "--ipfs", "Qm")
	if rxerr.KindOf(err) != rxerr.UserRejected {
		t.Fatalf("err = %v, want UserRejected", err)
	}
	out := env.mustRun(t, "", "rx", "count")
	if strings.TrimSpace(out) != "0" {
		t.Errorf("count = %q, want 0", out)
	}
}

func TestWrongContract(t *testing.T) {
	env := setupTestEnv(t)
	_, err := env.run(t, "", "--contract", "0x00000000000000000000000000000000000000aa", "rx", "get", "1")
	if rxerr.KindOf(err) != rxerr.InvalidAddress {
		t.Errorf("err = %v, want InvalidAddress", err)
	}

	_, err = env.run(t, "", "--contract", "not-an-address", "rx", "count")
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("malformed contract: err = %v", err)
	}
}

func TestUnreachableLedger(t *testing.T) {
	env := setupTestEnv(t)
	_, err := env.run(t, "", "--rpc", "http://127.0.0.1:1/", "rx", "count")
	if rxerr.KindOf(err) != rxerr.ProviderAbsent {
		t.Errorf("err = %v, want ProviderAbsent", err)
	}
}

func TestWalletAccounts(t *testing.T) {
	env := setupTestEnv(t)
	env.mustRun(t, "", "wallet", "create")

	out := env.mustRun(t, "", "wallet", "new-account", "--label", "Pharmacy")
	assertContains(t, out, "Address: 0x")
	second := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "Address:"))

	out = env.mustRun(t, "", "wallet", "accounts")
	assertContains(t, out, "[0]", "[1] "+second+"  Pharmacy (selected)")

	env.mustRun(t, "", "wallet", "use", "0")
	out = env.mustRun(t, "", "wallet", "accounts")
	assertContains(t, out, "Account 1 (selected)")

	out = env.mustRun(t, "", "wallet", "list")
	assertContains(t, out, "* default")

	env.mustRun(t, "", "--yes", "connect")
	env.mustRun(t, "", "wallet", "revoke")
	out = env.mustRun(t, "", "status")
	assertContains(t, out, "Wallet:   default (not connected)")

	if _, err := env.run(t, "", "wallet", "create"); err == nil {
		t.Error("creating an existing wallet should fail")
	}
}

func TestWalletImport(t *testing.T) {
	env := setupTestEnv(t)
	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		t.Fatal(err)
	}
	first := env.mustRun(t, "", "--wallet", "a", "wallet", "import", "--mnemonic", mnemonic)
	second := env.mustRun(t, "", "--wallet", "b", "wallet", "import", "--mnemonic", "  "+strings.ToUpper(mnemonic)+" ")

	addr := func(out string) string {
		i := strings.Index(out, "Address: ")
		return strings.TrimSpace(out[i+len("Address: "):])
	}
	if addr(first) != addr(second) {
		t.Errorf("same mnemonic gave %s and %s", addr(first), addr(second))
	}

	if _, err := env.run(t, "", "--wallet", "c", "wallet", "import", "--mnemonic", "not a real mnemonic"); err == nil {
		t.Error("invalid mnemonic should fail")
	}
}
