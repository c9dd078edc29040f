// Command peer runs one Ricart-Agrawala process: it registers itself with
// the name registry, starts its RPC server and heartbeat loop, and drives
// the interactive menu.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mateusmarodim/ricart-agrawala-go/internal/cli"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/config"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/peer"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/registry"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg := config.FromEnv()

	id := cfg.PeerID
	if id == "" {
		id = promptForID(os.Stdin, os.Stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := peer.Start(ctx, id, cfg)
	if err != nil {
		// A registry naming conflict surfaces here too (register fails);
		// the user is re-prompted for a different id.
		if isNamingConflict(err) {
			for isNamingConflict(err) {
				fmt.Println("Esse nome já está em uso, escolha outro.")
				id = promptForID(os.Stdin, os.Stdout)
				p, err = peer.Start(ctx, id, cfg)
			}
		}
		if err != nil {
			log.WithError(err).Fatal("peer: failed to start")
		}
	}

	fmt.Println("Ready. Registrado como:", "peer."+id)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Close(shutdownCtx); err != nil {
			log.WithError(err).Warn("peer: shutdown error")
		}
		os.Exit(0)
	}()

	cli.Run(ctx, os.Stdin, os.Stdout,
		p.RequestCS,
		p.ExitCS,
		func() string { return formatPeerList(p) },
	)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.Close(shutdownCtx)
}

func promptForID(in *os.File, out *os.File) string {
	fmt.Fprint(out, "Escolha um nome para este peer: ")
	scanner := bufio.NewScanner(in)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

func isNamingConflict(err error) bool {
	return errors.Is(err, registry.ErrNameConflict)
}

func formatPeerList(p *peer.Peer) string {
	entries := p.ListPeers()
	if len(entries) == 0 {
		return "Active peers: (none)"
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("Active peers:\n")
	for _, id := range ids {
		e := entries[id]
		fmt.Fprintf(&b, "  %s -> %s (last heartbeat %s)\n", id, e.Response, cli.FormatDuration(time.Since(e.LastHeartbeat)))
	}
	return strings.TrimRight(b.String(), "\n")
}
