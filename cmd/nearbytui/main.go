package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/nearby/internal/account"
	"github.com/matheus3301/nearby/internal/tui"
	"github.com/matheus3301/nearby/internal/tui/client"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	flag.Parse()

	accountName := account.Resolve(*accountFlag)
	if err := account.ValidateName(accountName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	socketPath := account.SocketPath(accountName)
	c, err := client.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	// Probe daemon health; auto-start if needed.
	if !c.Probe(2 * time.Second) {
		fmt.Fprintf(os.Stderr, "daemon not running for account %q, starting...\n", accountName)
		if err := startDaemon(accountName); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		if !waitForDaemon(c, 10*time.Second) {
			fmt.Fprintf(os.Stderr, "daemon did not become ready\n")
			os.Exit(1)
		}
	}

	app := tui.NewApp(c)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func startDaemon(accountName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	nearbyd := filepath.Join(filepath.Dir(executable), "nearbyd")

	if _, err := os.Stat(nearbyd); err != nil {
		nearbyd = "nearbyd"
	}

	cmd := exec.Command(nearbyd, "--account", accountName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls the daemon with a real RPC, not just a socket connect.
func waitForDaemon(c *client.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Probe(2 * time.Second) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
