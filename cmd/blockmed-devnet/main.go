// BlockMed local development ledger.
//
// Usage:
//
//	blockmed-devnet [--rpc-port=8545 --storage=badger] Run the devnet
//	blockmed-devnet --help                             Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/blockmed/blockmed/config"
	"github.com/blockmed/blockmed/internal/node"
	"github.com/blockmed/blockmed/internal/rpc"
)

func main() {
	cfg, flags, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if flags.Help {
		config.PrintUsage(os.Stdout)
		return
	}
	if flags.Version {
		fmt.Println(rpc.ClientVersion)
		return
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}
