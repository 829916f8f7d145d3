// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/petervdpas/goopcall/internal/api"
	"github.com/petervdpas/goopcall/internal/app"
	"github.com/petervdpas/goopcall/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	tokenTTL = flag.Duration("ttl", 30*24*time.Hour, "Lifetime of tokens issued by the token command")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

const cfgName = "goopcall.json"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("goopcall v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "run":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: run command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: goopcall run <peer-directory>")
			os.Exit(1)
		}
		runPeer(args[1])

	case "token":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: token command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: goopcall token <peer-directory> [client]")
			os.Exit(1)
		}
		client := "cli"
		if len(args) > 2 {
			client = args[2]
		}
		issueToken(args[1], client)

	case "version":
		fmt.Printf("goopcall v%s\n", appVersion)

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", args[0])
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

// loadPeer resolves the peer directory and loads, or creates, its config.
func loadPeer(peerDirArg string) (string, string, config.Config) {
	absDir, err := filepath.Abs(peerDirArg)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Cannot create peer directory: %v", err)
	}
	if err := config.LoadEnvFile(filepath.Join(absDir, ".env")); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	cfgPath := filepath.Join(absDir, cfgName)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("CONFIG: created %s with identity %s", cfgPath, cfg.Identity.ID)
	}
	return absDir, cfgPath, cfg
}

func runPeer(peerDirArg string) {
	logs := api.NewLogBuffer(800)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	absDir, cfgPath, cfg := loadPeer(peerDirArg)
	printPeerBanner(absDir, cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		PeerDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
		Logs:    logs,
	}); err != nil {
		log.Fatalf("Peer failed: %v", err)
	}
}

func issueToken(peerDirArg, client string) {
	_, _, cfg := loadPeer(peerDirArg)
	if cfg.API.JWTSecret == "" {
		log.Fatalf("api.jwt_secret is not set; the control API is unauthenticated")
	}
	tok, err := api.IssueToken(cfg.API.JWTSecret, client, *tokenTTL)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(tok)
}

func showUsage() {
	fmt.Println("goopcall - peer-to-peer calls")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  goopcall run <directory>             Run a peer from the directory")
	fmt.Println("  goopcall token <directory> [client]  Print a control API token")
	fmt.Println("  goopcall version                     Show version information")
	fmt.Println()
	fmt.Println("  The directory holds goopcall.json, an optional .env and the peer's data.")
	fmt.Println("  A default goopcall.json with a new identity is created on first run.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println("  -ttl      Token lifetime for the token command (default 720h)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  goopcall run ./peers/alice")
	fmt.Println("  GOOPCALL_SIGNALING=redis goopcall run ./peers/bob")
}

func printPeerBanner(peerDir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                  goopcall Peer Runner                  ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Peer Directory: %s\n", peerDir)
	fmt.Printf("Config File:    %s\n", cfgPath)
	fmt.Printf("Identity:       %s (%s)\n", cfg.Identity.ID, cfg.Identity.DisplayName)
	fmt.Printf("Signaling:      %s\n", cfg.Signaling.Backend)
	fmt.Printf("Media:          %s\n", cfg.Media.Driver)
	fmt.Println()
	fmt.Println("Starting peer... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
