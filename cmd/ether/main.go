// Ether — client demo CLI.
//
// Walks through the remote memory API against a running etherd: ping,
// allocate, write, read back, resize, free, and a read-after-free that is
// expected to fail. Can be launched non-interactively via flags (-host,
// -port, -url) or interactively with pterm prompts.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/Hexkalibur/Ether/internal/client"
	"github.com/Hexkalibur/Ether/internal/etherr"
	"github.com/Hexkalibur/Ether/internal/protocol"
	"github.com/Hexkalibur/Ether/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	host := flag.String("host", "", "Server hostname or IP")
	port := flag.Int("port", protocol.DefaultPort, "Server port, 1~65535")
	wsURL := flag.String("url", "", "WebSocket URL (e.g. ws://localhost:9998/ws) — overrides -host/-port")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println("Ether Client Example")
	pterm.Println()

	var (
		conn *client.Conn
		err  error
	)

	switch {
	case *wsURL != "":
		conn, err = client.ConnectWS(ctx, *wsURL)
	case *host != "":
		if *port < 1 || *port > 65535 {
			util.LogError("invalid -port (must be 1~65535)")
			os.Exit(1)
		}
		conn, err = client.Connect(ctx, *host, *port)
	default:
		// No flags → interactive mode.
		h := askHost()
		p := askPort()
		conn, err = client.Connect(ctx, h, p)
	}

	if err != nil {
		util.LogError("connection failed: %s (%v)", etherr.Message(err), err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := runDemo(conn); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogSuccess("all operations completed")
}

// runDemo reproduces the canonical walkthrough: ping, 256-byte allocation,
// write and read back a secret, grow the block, free it, then prove the
// handle is gone.
func runDemo(conn *client.Conn) error {
	util.LogInfo("sending PING...")
	if err := conn.Ping(); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	util.LogSuccess("PONG received, server is alive")

	util.LogInfo("allocating 256 bytes of remote memory...")
	h, err := conn.Rmalloc(256)
	if err != nil {
		return fmt.Errorf("rmalloc failed: %w", err)
	}
	util.LogSuccess("got handle %d (size %d)", h, conn.Rsize(h))

	secret := []byte("Hello from remote memory!")
	util.LogInfo("writing %d bytes...", len(secret))
	if err := conn.Rwrite(h, secret); err != nil {
		return fmt.Errorf("rwrite failed: %w", err)
	}

	util.LogInfo("reading %d bytes back...", len(secret))
	got, err := conn.Rread(h, uint64(len(secret)))
	if err != nil {
		return fmt.Errorf("rread failed: %w", err)
	}
	if !bytes.Equal(got, secret) {
		return fmt.Errorf("data mismatch: wrote %q, read %q", secret, got)
	}
	util.LogSuccess("read back: %q", got)

	util.LogInfo("growing the block to 512 bytes...")
	if _, err := conn.Rrealloc(h, 512); err != nil {
		return fmt.Errorf("rrealloc failed: %w", err)
	}
	util.LogSuccess("block resized, cached size is now %d", conn.Rsize(h))

	util.LogInfo("freeing the block...")
	conn.Rfree(h)

	if _, err := conn.Rread(h, 1); err == nil {
		return fmt.Errorf("read after free unexpectedly succeeded")
	} else {
		util.LogSuccess("read after free failed as expected: %s", etherr.Message(err))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askHost prompts for a hostname until a non-empty one is entered.
func askHost() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Server host (e.g. localhost)").
			Show()

		host := strings.TrimSpace(raw)
		if host != "" {
			pterm.Println()
			return host
		}

		util.LogWarning("host must not be empty")
		pterm.Println()
	}
}

// askPort prompts for a port number until a valid one is entered.
func askPort() int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(fmt.Sprintf("Server port (default %d)", protocol.DefaultPort)).
			Show()

		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			pterm.Println()
			return protocol.DefaultPort
		}

		port, err := strconv.Atoi(trimmed)
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}
