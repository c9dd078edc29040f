// Package config reads peer startup configuration from the environment,
// following the same os.Getenv-with-defaults style the reference reservation
// servers use for SERVER_ID, PEERS and MONGO_URI.
package config

import (
	"os"
)

const (
	// DefaultRegistryAddr is the well-known registry endpoint from the wire
	// contract: host 0.0.0.0, port 9090.
	DefaultRegistryAddr = "0.0.0.0:9090"
	// DefaultBindAddr is where this peer's own RPC server listens.
	DefaultBindAddr = "0.0.0.0:0"
)

// Config holds everything read from the environment at startup.
type Config struct {
	// PeerID is the id this peer registers under. Empty means the CLI
	// should prompt for one, matching the interactive "Escolha um nome
	// para este peer" flow of the reference implementation.
	PeerID string

	// RegistryAddr is host:port of the name registry.
	RegistryAddr string

	// BindAddr is the address this peer's RPC server listens on.
	// "host:0" lets the OS pick a free port; the peer registers whatever
	// address it actually ends up bound to.
	BindAddr string

	// AdvertiseHost is the hostname/IP other peers should use to reach
	// this one. Defaults to "127.0.0.1" for local multi-process testing.
	AdvertiseHost string
}

// FromEnv builds a Config from the process environment, applying defaults
// for anything unset.
func FromEnv() Config {
	cfg := Config{
		PeerID:        os.Getenv("PEER_ID"),
		RegistryAddr:  os.Getenv("REGISTRY_ADDR"),
		BindAddr:      os.Getenv("BIND_ADDR"),
		AdvertiseHost: os.Getenv("ADVERTISE_HOST"),
	}
	if cfg.RegistryAddr == "" {
		cfg.RegistryAddr = DefaultRegistryAddr
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = DefaultBindAddr
	}
	if cfg.AdvertiseHost == "" {
		cfg.AdvertiseHost = "127.0.0.1"
	}
	return cfg
}
