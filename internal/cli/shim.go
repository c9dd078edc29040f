// Package cli is the peer's interactive front end: it reads a menu choice
// and dispatches to request-CS, exit-CS, or list-peers, printing
// precondition violations and invalid choices instead of failing the
// process.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mateusmarodim/ricart-agrawala-go/internal/ra"
)

// Run drives the interactive menu until in reads EOF or ctx is cancelled.
// It depends only on plain functions so it doesn't need to import peer or
// membership directly — main.go supplies closures over the running Peer.
func Run(ctx context.Context, in io.Reader, out io.Writer, requestCS func(context.Context) error, exitCS func() error, listPeers func() string) {
	scanner := bufio.NewScanner(in)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Fprintln(out, "\n1. Requisitar seção crítica")
		fmt.Fprintln(out, "2. Liberar seção crítica")
		fmt.Fprintln(out, "3. Listar peers ativos")
		fmt.Fprint(out, "Escolha uma opção: ")

		if !scanner.Scan() {
			return
		}
		choice := strings.TrimSpace(scanner.Text())

		switch choice {
		case "1":
			if err := requestCS(ctx); err != nil {
				if errors.Is(err, ra.ErrAlreadyHeld) {
					fmt.Fprintln(out, "Você já está na seção crítica.")
				} else {
					fmt.Fprintln(out, "Erro ao requisitar seção crítica:", err)
				}
				continue
			}
			fmt.Fprintln(out, "Seção crítica adquirida.")
		case "2":
			if err := exitCS(); err != nil {
				if errors.Is(err, ra.ErrNotHeld) {
					fmt.Fprintln(out, "Você não está na seção crítica.")
				} else {
					fmt.Fprintln(out, "Erro ao liberar seção crítica:", err)
				}
				continue
			}
			fmt.Fprintln(out, "Seção crítica liberada.")
		case "3":
			fmt.Fprintln(out, listPeers())
		default:
			fmt.Fprintln(out, "Opção inválida.")
		}
	}
}

// FormatDuration renders a time.Duration the way the peer list shows "how
// long since last heartbeat" in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "just now"
	}
	return d.Truncate(time.Second).String() + " ago"
}
