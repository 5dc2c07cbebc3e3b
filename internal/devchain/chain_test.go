package devchain

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	klog "github.com/blockmed/blockmed/internal/log"
	"github.com/blockmed/blockmed/internal/storage"
	"github.com/blockmed/blockmed/pkg/contract"
)

// First development account.
const devKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testTime = time.Unix(1_700_000_000, 0)

func setupTestEnv(t *testing.T, db storage.DB) *Chain {
	t.Helper()
	klog.Init("error", false, "")
	cfg := DefaultConfig()
	cfg.Clock = func() time.Time { return testTime }
	c, err := New(db, cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func devKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := gethcrypto.HexToECDSA(devKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func signedCall(t *testing.T, c *Chain, key *ecdsa.PrivateKey, nonce, gas uint64, method string, args ...interface{}) *types.Transaction {
	t.Helper()
	data, err := contract.MustABI().Pack(method, args...)
	if err != nil {
		t.Fatalf("Pack(%s) error: %v", method, err)
	}
	to := c.ContractAddress()
	tx := types.NewTx(&types.LegacyTx{Nonce: nonce, To: &to, Gas: gas, GasPrice: big.NewInt(1_000_000_000), Data: data})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.ChainID()), key)
	if err != nil {
		t.Fatalf("SignTx() error: %v", err)
	}
	return signed
}

func callGet(t *testing.T, c *Chain, id int64) []interface{} {
	t.Helper()
	a := contract.MustABI()
	data, _ := a.Pack(contract.MethodGetPrescription, big.NewInt(id))
	to := c.ContractAddress()
	ret, err := c.Call(ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		t.Fatalf("Call(getPrescription) error: %v", err)
	}
	out, err := a.Unpack(contract.MethodGetPrescription, ret)
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	return out
}

func TestNew_Genesis(t *testing.T) {
	c := setupTestEnv(t, storage.NewMemory())
	head := c.Head()
	if head.Number.Sign() != 0 {
		t.Errorf("genesis number = %s", head.Number)
	}
	if head.Time != uint64(testTime.Unix()) {
		t.Errorf("genesis time = %d", head.Time)
	}
	st, err := c.Status()
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if st.Records != 0 || st.ChainID != 31337 {
		t.Errorf("Status() = %+v", st)
	}
	if len(c.Code(DefaultContractAddress)) == 0 {
		t.Error("registry address should report code")
	}
	if len(c.Code(common.HexToAddress("0x01"))) != 0 {
		t.Error("other addresses should have no code")
	}
}

func TestSendTransaction_AddAndGet(t *testing.T) {
	c := setupTestEnv(t, storage.NewMemory())
	key := devKey(t)
	from := gethcrypto.PubkeyToAddress(key.PublicKey)

	receipt, err := c.SendTransaction(signedCall(t, c, key, 0, 200000, contract.MethodAddPrescription, "p1", "QmA"))
	if err != nil {
		t.Fatalf("SendTransaction() error: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("status = %d", receipt.Status)
	}
	if receipt.BlockNumber.Uint64() != 1 || c.Head().Number.Uint64() != 1 {
		t.Errorf("block number = %s, head = %s", receipt.BlockNumber, c.Head().Number)
	}
	if len(receipt.Logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(receipt.Logs))
	}
	added := contract.MustABI().Events[contract.EventPrescriptionAdded]
	if receipt.Logs[0].Topics[0] != added.ID || receipt.Logs[0].Topics[1].Big().Uint64() != 1 {
		t.Errorf("unexpected log topics %v", receipt.Logs[0].Topics)
	}

	out := callGet(t, c, 1)
	if out[0].(*big.Int).Uint64() != 1 || out[1].(string) != "p1" || out[2].(string) != "QmA" {
		t.Errorf("getPrescription(1) = %v", out)
	}
	if out[3].(common.Address) != from {
		t.Errorf("doctor = %s, want %s", out[3].(common.Address).Hex(), from.Hex())
	}
	if out[4].(*big.Int).Int64() != testTime.Unix() || out[5].(bool) {
		t.Errorf("timestamp/verified = %v/%v", out[4], out[5])
	}

	missing := callGet(t, c, 999999)
	if missing[0].(*big.Int).Sign() != 0 || missing[1].(string) != "" {
		t.Errorf("unknown id should return the zero tuple, got %v", missing)
	}

	stored, err := c.Receipt(receipt.TxHash)
	if err != nil {
		t.Fatalf("Receipt() error: %v", err)
	}
	if stored.BlockHash != c.Head().Hash() {
		t.Error("receipt block hash should match the head")
	}
	if _, err := c.Receipt(common.HexToHash("0x1234")); !errors.Is(err, ethereum.NotFound) {
		t.Errorf("Receipt(unknown) error = %v", err)
	}
}

func TestSendTransaction_Rejections(t *testing.T) {
	c := setupTestEnv(t, storage.NewMemory())
	key := devKey(t)

	tx := signedCall(t, c, key, 0, 200000, contract.MethodAddPrescription, "p1", "QmA")
	if _, err := c.SendTransaction(tx); err != nil {
		t.Fatalf("SendTransaction() error: %v", err)
	}
	if _, err := c.SendTransaction(tx); !errors.Is(err, ErrAlreadyKnown) {
		t.Errorf("resend error = %v, want ErrAlreadyKnown", err)
	}
	if _, err := c.SendTransaction(signedCall(t, c, key, 0, 200000, contract.MethodAddPrescription, "p2", "QmB")); !errors.Is(err, ErrNonceTooLow) {
		t.Errorf("stale nonce error = %v", err)
	}
	if _, err := c.SendTransaction(signedCall(t, c, key, 5, 200000, contract.MethodAddPrescription, "p2", "QmB")); !errors.Is(err, ErrNonceTooHigh) {
		t.Errorf("future nonce error = %v", err)
	}
	if _, err := c.SendTransaction(signedCall(t, c, key, 1, 21000, contract.MethodAddPrescription, "p2", "QmB")); !errors.Is(err, ErrGasTooLow) {
		t.Errorf("low gas error = %v", err)
	}

	unsigned := types.NewTx(&types.LegacyTx{Nonce: 1, To: &common.Address{}, Gas: 50000, GasPrice: big.NewInt(1)})
	homestead, _ := types.SignTx(unsigned, types.HomesteadSigner{}, key)
	if _, err := c.SendTransaction(homestead); !errors.Is(err, ErrUnprotected) {
		t.Errorf("unprotected tx error = %v", err)
	}
	if n, _ := c.Nonce(gethcrypto.PubkeyToAddress(key.PublicKey)); n != 1 {
		t.Errorf("nonce = %d after rejections, want 1", n)
	}
}

func TestVerify_Reverts(t *testing.T) {
	c := setupTestEnv(t, storage.NewMemory())
	key := devKey(t)
	c.SendTransaction(signedCall(t, c, key, 0, 200000, contract.MethodAddPrescription, "p1", "QmA"))

	receipt, err := c.SendTransaction(signedCall(t, c, key, 1, 100000, contract.MethodVerifyPrescription, big.NewInt(1)))
	if err != nil || receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("verify: receipt %+v, err %v", receipt, err)
	}
	if out := callGet(t, c, 1); !out[5].(bool) {
		t.Error("record should be verified")
	}

	data, _ := contract.MustABI().Pack(contract.MethodVerifyPrescription, big.NewInt(1))
	to := c.ContractAddress()
	_, err = c.EstimateGas(ethereum.CallMsg{To: &to, Data: data})
	var revert *RevertError
	if !errors.As(err, &revert) || revert.Reason != contract.ReasonAlreadyVerified {
		t.Fatalf("EstimateGas() error = %v, want already-verified revert", err)
	}
	reason, err := contract.DecodeRevert(revert.Data)
	if err != nil || reason != contract.ReasonAlreadyVerified {
		t.Errorf("revert data decodes to %q, %v", reason, err)
	}

	// Sent anyway: included with a failed receipt, nonce consumed.
	receipt, err = c.SendTransaction(signedCall(t, c, key, 2, 100000, contract.MethodVerifyPrescription, big.NewInt(1)))
	if err != nil {
		t.Fatalf("SendTransaction() error: %v", err)
	}
	if receipt.Status != types.ReceiptStatusFailed || len(receipt.Logs) != 0 {
		t.Errorf("reverted receipt = status %d, %d logs", receipt.Status, len(receipt.Logs))
	}

	data, _ = contract.MustABI().Pack(contract.MethodVerifyPrescription, big.NewInt(42))
	if _, err := c.EstimateGas(ethereum.CallMsg{To: &to, Data: data}); !errors.As(err, &revert) || revert.Reason != contract.ReasonNotFound {
		t.Errorf("verify unknown id error = %v", err)
	}
	data, _ = contract.MustABI().Pack(contract.MethodAddPrescription, "", "QmA")
	if _, err := c.EstimateGas(ethereum.CallMsg{To: &to, Data: data}); !errors.As(err, &revert) || revert.Reason != contract.ReasonEmptyPatient {
		t.Errorf("empty patient hash error = %v", err)
	}
}

func TestFilterLogs(t *testing.T) {
	c := setupTestEnv(t, storage.NewMemory())
	key := devKey(t)
	c.SendTransaction(signedCall(t, c, key, 0, 200000, contract.MethodAddPrescription, "p1", "QmA"))
	c.SendTransaction(signedCall(t, c, key, 1, 200000, contract.MethodAddPrescription, "p2", "QmB"))
	c.SendTransaction(signedCall(t, c, key, 2, 100000, contract.MethodVerifyPrescription, big.NewInt(2)))

	a := contract.MustABI()
	all, err := c.FilterLogs(ethereum.FilterQuery{FromBlock: big.NewInt(0), Addresses: []common.Address{c.ContractAddress()}})
	if err != nil {
		t.Fatalf("FilterLogs() error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("logs = %d, want 3", len(all))
	}

	verified, _ := c.FilterLogs(ethereum.FilterQuery{
		FromBlock: big.NewInt(0),
		Topics:    [][]common.Hash{{a.Events[contract.EventPrescriptionVerified].ID}},
	})
	if len(verified) != 1 || verified[0].Topics[1].Big().Uint64() != 2 {
		t.Errorf("verified logs = %+v", verified)
	}

	latest, _ := c.FilterLogs(ethereum.FilterQuery{})
	if len(latest) != 1 || latest[0].BlockNumber != 3 {
		t.Errorf("default range should cover only the head block, got %d logs", len(latest))
	}
}

func TestStateRoot_Deterministic(t *testing.T) {
	run := func() common.Hash {
		c := setupTestEnv(t, storage.NewMemory())
		key := devKey(t)
		c.SendTransaction(signedCall(t, c, key, 0, 200000, contract.MethodAddPrescription, "p1", "QmA"))
		return c.Head().Root
	}
	r1, r2 := run(), run()
	if r1 != r2 {
		t.Errorf("state roots differ: %s vs %s", r1.Hex(), r2.Hex())
	}
	if r1 == (common.Hash{}) {
		t.Error("state root should change after a write")
	}
}

func TestChain_Persistence(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	c := setupTestEnv(t, db)
	key := devKey(t)
	c.SendTransaction(signedCall(t, c, key, 0, 200000, contract.MethodAddPrescription, "p1", "QmA"))
	headHash := c.Head().Hash()
	db.Close()

	db, err = storage.NewBadger(dir)
	if err != nil {
		t.Fatalf("reopen NewBadger() error: %v", err)
	}
	defer db.Close()
	c = setupTestEnv(t, db)
	if c.Head().Hash() != headHash {
		t.Errorf("head after reopen = %s, want %s", c.Head().Hash().Hex(), headHash.Hex())
	}
	if out := callGet(t, c, 1); out[1].(string) != "p1" {
		t.Errorf("record lost after reopen: %v", out)
	}
	if n, _ := c.Nonce(gethcrypto.PubkeyToAddress(key.PublicKey)); n != 1 {
		t.Errorf("nonce after reopen = %d", n)
	}
}

func TestReset(t *testing.T) {
	db := storage.NewMemory()
	if err := db.Put([]byte("other/key"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	c := setupTestEnv(t, db)
	c.SendTransaction(signedCall(t, c, devKey(t), 0, 200000, contract.MethodAddPrescription, "p1", "QmA"))

	if err := Reset(db); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	c = setupTestEnv(t, db)
	if n := c.Head().Number.Uint64(); n != 0 {
		t.Errorf("head after reset = %d, want 0", n)
	}
	if out := callGet(t, c, 1); out[0].(*big.Int).Sign() != 0 {
		t.Errorf("record survived reset: %v", out)
	}
	if ok, _ := db.Has([]byte("other/key")); !ok {
		t.Error("Reset() removed keys outside the chain namespace")
	}
}
