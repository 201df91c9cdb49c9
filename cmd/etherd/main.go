// Etherd — the Ether memory daemon.
//
// Serves remote memory over the Ether wire protocol: clients allocate,
// write, read, resize, and free blocks that live in this process. Listens
// on TCP (default port 9999) and optionally on a WebSocket endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/Hexkalibur/Ether/internal/protocol"
	"github.com/Hexkalibur/Ether/internal/server"
	"github.com/Hexkalibur/Ether/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI flags.
	port := flag.Int("port", protocol.DefaultPort, "TCP port to listen on, 1~65535")
	wsPort := flag.Int("wsPort", 0, "WebSocket port to listen on (0 disables the endpoint)")
	localOnly := flag.Bool("local", false, "Listen on 127.0.0.1 only instead of all interfaces")
	timeout := flag.Duration("timeout", 0, "Per-receive timeout (default 30s)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	if *port < 1 || *port > 65535 {
		util.LogError("invalid -port (must be 1~65535)")
		os.Exit(1)
	}

	host := ""
	if *localOnly {
		host = "127.0.0.1"
	}

	cfg := server.Config{
		Addr:        fmt.Sprintf("%s:%d", host, *port),
		RecvTimeout: *timeout,
	}
	if *wsPort > 0 {
		cfg.WSAddr = fmt.Sprintf("%s:%d", host, *wsPort)
	}

	pterm.Info.Println(fmt.Sprintf("Ether Daemon — v%s", version))
	pterm.Println()

	srv := server.New(cfg)
	if err := srv.Run(ctx); err != nil {
		util.LogError("failed to start server: %v", err)
		os.Exit(1)
	}

	// Give in-flight sessions a moment to observe the cancellation.
	time.Sleep(100 * time.Millisecond)
	util.LogInfo("goodbye")
}
