package node

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blockmed/blockmed/config"
	"github.com/blockmed/blockmed/internal/rpcclient"
)

func testConfig(t *testing.T, storageEngine string) *config.Config {
	t.Helper()
	cfg := config.DefaultLocalhost()
	cfg.DataDir = t.TempDir()
	cfg.RPC.Port = 0
	cfg.RPC.RateLimit = 0
	cfg.Devnet.Storage = storageEngine
	cfg.Log.Level = "error"
	return cfg
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.blockmed/devnet", filepath.Join(home, ".blockmed/devnet")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestOpenStorage_Unknown(t *testing.T) {
	cfg := testConfig(t, "leveldb")
	if _, err := openStorage(cfg); err == nil {
		t.Fatal("expected error for unknown storage engine")
	}
}

func TestNode_StartStop(t *testing.T) {
	cfg := testConfig(t, config.StorageMemory)
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer n.Stop()

	client := rpcclient.New("http://" + n.RPCAddr() + "/")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if st.ChainID != 31337 || st.Height != 0 {
		t.Errorf("Status() = %+v", st)
	}
	if st.Contract != common.HexToAddress(config.LocalContractAddress) {
		t.Errorf("contract = %s", st.Contract.Hex())
	}
	if n.Height() != 0 {
		t.Errorf("Height() = %d", n.Height())
	}
}

func TestNode_CustomChain(t *testing.T) {
	cfg := testConfig(t, config.StorageMemory)
	cfg.Chain.ID = 1337
	cfg.Contract.Address = "0x00000000000000000000000000000000000000aa"
	cfg.RPC.Enabled = false

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer n.Stop()

	if n.RPCAddr() != "" {
		t.Errorf("RPCAddr() = %q with rpc disabled", n.RPCAddr())
	}
	if n.Chain().ChainID().Int64() != 1337 {
		t.Errorf("chain id = %s", n.Chain().ChainID())
	}
	if n.Chain().ContractAddress() != common.HexToAddress("0xaa") {
		t.Errorf("contract = %s", n.Chain().ContractAddress().Hex())
	}
}

func TestNode_BadgerPersistsAndResets(t *testing.T) {
	cfg := testConfig(t, config.StorageBadger)
	cfg.RPC.Enabled = false

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	genesis := n.Chain().Head().Hash()
	n.Stop()

	n, err = New(cfg)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if n.Chain().Head().Hash() != genesis {
		t.Error("genesis changed across restarts")
	}
	n.Stop()

	cfg.Devnet.Reset = true
	n, err = New(cfg)
	if err != nil {
		t.Fatalf("reset error: %v", err)
	}
	defer n.Stop()
	if n.Height() != 0 {
		t.Errorf("Height() after reset = %d", n.Height())
	}
	if _, err := os.Stat(cfg.DevnetDir()); err != nil {
		t.Errorf("devnet dir missing: %v", err)
	}
}
