package rpcclient

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/blockmed/blockmed/internal/devchain"
	klog "github.com/blockmed/blockmed/internal/log"
	"github.com/blockmed/blockmed/internal/rpc"
	"github.com/blockmed/blockmed/internal/rxerr"
	"github.com/blockmed/blockmed/internal/storage"
)

type testEnv struct {
	client *Client
	chain  *devchain.Chain
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	ch, err := devchain.New(storage.NewMemory(), devchain.DefaultConfig())
	if err != nil {
		t.Fatalf("create chain: %v", err)
	}

	// Create and start RPC server on random port.
	srv := rpc.New("127.0.0.1:0", ch)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		client: New("http://" + srv.Addr() + "/"),
		chain:  ch,
	}
}

func TestClient_Status(t *testing.T) {
	env := setupTestEnv(t)

	st, err := env.client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if st.ChainID != 31337 || st.Height != 0 {
		t.Errorf("Status() = %+v", st)
	}
	if st.HeadHash != env.chain.Head().Hash() {
		t.Errorf("HeadHash = %s, want %s", st.HeadHash.Hex(), env.chain.Head().Hash().Hex())
	}
}

func TestClient_CallWithParams(t *testing.T) {
	env := setupTestEnv(t)

	var code hexutil.Bytes
	if err := env.client.Call(context.Background(), &code, "eth_getCode", devchain.DefaultContractAddress, "latest"); err != nil {
		t.Fatalf("eth_getCode error: %v", err)
	}
	if len(code) == 0 {
		t.Error("registry address has no code")
	}

	var id hexutil.Big
	if err := env.client.Call(context.Background(), &id, "eth_chainId"); err != nil {
		t.Fatal(err)
	}
	if id.ToInt().Cmp(big.NewInt(31337)) != 0 {
		t.Errorf("eth_chainId = %s", id.String())
	}

	v, err := env.client.ClientVersion(context.Background())
	if err != nil || v != rpc.ClientVersion {
		t.Errorf("ClientVersion() = %q, %v", v, err)
	}
}

func TestClient_RPCError(t *testing.T) {
	env := setupTestEnv(t)

	err := env.client.Call(context.Background(), nil, "no_such_method")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %T %v, want *RPCError", err, err)
	}
	if rpcErr.ErrorCode() != rpc.CodeMethodNotFound {
		t.Errorf("code = %d, want %d", rpcErr.Code, rpc.CodeMethodNotFound)
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := NewWithTimeout("http://127.0.0.1:1/", time.Second)
	_, err := c.Status(context.Background())
	if err == nil {
		t.Fatal("expected error for closed port")
	}
	if !errors.Is(rxerr.Classify("status", err), rxerr.ErrProviderAbsent) {
		t.Errorf("Classify(%v) should be ProviderAbsent", err)
	}
}

func TestClient_IDMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","result":"0x1","id":"someone-else"}`))
	}))
	defer srv.Close()

	if err := New(srv.URL).Call(context.Background(), nil, "eth_chainId"); err == nil {
		t.Error("expected id mismatch error")
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	// Unblock the handler before Close waits for it.
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := New(srv.URL).Call(ctx, nil, "eth_chainId")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}
