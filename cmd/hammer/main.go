// Command hammer is the load-generator client's process entrypoint
// (spec.md §1's "companion load-generator client"): many concurrent
// outbound TLS connections exercising the auth protocol against a running
// authserver.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/silvematt/NECRO-MMO/internal/hammer"
	"github.com/silvematt/NECRO-MMO/internal/tlsnet"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:61531", "auth server address")
	caFile := flag.String("ca", "server.pem", "CA certificate trusted for the server")
	threads := flag.Int("threads", 4, "number of worker threads")
	connections := flag.Int("connections", 100, "number of simulated logins to drive")
	username := flag.String("username", "", "single username to log in with (ignored when -accounts is set)")
	password := flag.String("password", "", "password for -username")
	accountsFile := flag.String("accounts", "", "path to a username:password per-line account list")
	verMaj := flag.Int("ver-major", 1, "client version major, must match the server's CLIENT_VERSION_MAJOR")
	verMin := flag.Int("ver-minor", 0, "client version minor")
	verRev := flag.Int("ver-revision", 0, "client version revision")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, log, *addr, *caFile, *threads, *connections, *username, *password, *accountsFile, uint8(*verMaj), uint8(*verMin), uint8(*verRev)); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, addr, caFile string, threadCount, connectionCount int, username, password, accountsFile string, verMaj, verMin, verRev uint8) error {
	accounts, err := loadAccounts(username, password, accountsFile)
	if err != nil {
		return err
	}

	tlsCfg, err := tlsnet.ClientTLSConfig(caFile)
	if err != nil {
		return fmt.Errorf("hammer: %w", err)
	}

	mgr := hammer.NewManager(hammer.ManagerConfig{
		ServerAddr:       addr,
		ClientTLSConfig:  tlsCfg,
		ThreadCount:      threadCount,
		HandshakeTimeout: 10 * time.Second,
		OutboundQueueCap: 4,
		Accounts:         accounts,
		ConnectionCount:  connectionCount,
		ClientVersion:    [3]uint8{verMaj, verMin, verRev},
	}, log)

	log.Info("hammer starting", "addr", addr, "connections", connectionCount, "threads", threadCount)

	results, err := mgr.Run(ctx)
	if err != nil {
		log.Warn("hammer run ended early", "err", err)
	}

	var succeeded, failed int
	var totalElapsed time.Duration
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
			log.Debug("attempt failed", "username", r.Username, "err", r.Err)
		}
		totalElapsed += r.Elapsed
	}

	log.Info("hammer finished", "succeeded", succeeded, "failed", failed, "total", len(results))
	if len(results) > 0 {
		log.Info("average latency", "avg", totalElapsed/time.Duration(len(results)))
	}
	return nil
}

func loadAccounts(username, password, accountsFile string) ([]hammer.Account, error) {
	if accountsFile != "" {
		return readAccountsFile(accountsFile)
	}
	if username == "" {
		return nil, fmt.Errorf("hammer: must set -username/-password or -accounts")
	}
	return []hammer.Account{{Username: username, Password: password}}, nil
}

func readAccountsFile(path string) ([]hammer.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hammer: reading accounts file: %w", err)
	}

	var accounts []hammer.Account
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		user, pass, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("hammer: malformed account line %q, expected username:password", line)
		}
		accounts = append(accounts, hammer.Account{Username: user, Password: pass})
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("hammer: accounts file %s contained no entries", path)
	}
	return accounts, nil
}
