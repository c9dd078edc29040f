// Command registry runs a standalone name registry on host 0.0.0.0, port
// 9090 by default. Peers that can reach this process never spawn their
// own embedded registry.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/mateusmarodim/ricart-agrawala-go/internal/config"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/registry"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	addr := os.Getenv("REGISTRY_ADDR")
	if addr == "" {
		addr = config.DefaultRegistryAddr
	}

	srv := registry.NewServer()
	log.WithField("addr", addr).Info("registry: listening")
	if err := srv.ListenAndServe(addr); err != nil {
		log.WithError(err).Fatal("registry: stopped")
	}
}
