// Package daemon wires the broker's collaborators together: it
// registers plugins, opens the bookkeeping store, builds the Request
// Processor, and fronts it with the HTTP transport. cmd/secretsbrokerd
// is a thin CLI shell around this package.
package daemon

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/jolla/secretsbrokerd/internal/bookkeeping"
	"github.com/jolla/secretsbrokerd/internal/logging"
	"github.com/jolla/secretsbrokerd/internal/plugin"
	"github.com/jolla/secretsbrokerd/internal/plugins/aesgcm"
	"github.com/jolla/secretsbrokerd/internal/plugins/fusedstore"
	"github.com/jolla/secretsbrokerd/internal/plugins/interactiveauth"
	"github.com/jolla/secretsbrokerd/internal/plugins/sqlitestorage"
	"github.com/jolla/secretsbrokerd/internal/processor"
	"github.com/jolla/secretsbrokerd/internal/transport/httpapi"
)

const saltMetaKey = "salt"

// Config collects everything needed to stand up a broker. It is filled
// from CLI flags and environment overrides by cmd/secretsbrokerd, the
// same split the rest of this codebase uses for configuration.
type Config struct {
	DataDir             string
	ListenAddr          string
	LogLevel            string
	LogJSON             bool
	PlatformApplicationID string
	MaxConcurrentOps    int64
}

// DefaultConfig returns the configuration used when no flags or
// environment overrides are given.
func DefaultConfig() Config {
	return Config{
		DataDir:               defaultDataDir(),
		ListenAddr:            "127.0.0.1:7210",
		LogLevel:              "info",
		PlatformApplicationID: "org.sailfishos.secrets.platform",
		MaxConcurrentOps:      8,
	}
}

func defaultDataDir() string {
	if d := os.Getenv("SECRETSBROKERD_DATA_DIR"); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".secretsbrokerd")
}

// Daemon is a fully wired broker: the bookkeeping store, the plugin
// registry, the Request Processor, and the transport sitting in front
// of it.
type Daemon struct {
	cfg  Config
	log  *logrus.Logger
	bk   *bookkeeping.DB
	proc *processor.Processor
	srv  *httpapi.Server
}

// New opens the bookkeeping database (creating it if absent), registers
// the built-in plugins, and assembles the Request Processor and HTTP
// transport. It does not start listening; call Start for that.
func New(cfg Config) (*Daemon, error) {
	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	bk, err := bookkeeping.Open(filepath.Join(cfg.DataDir, "bookkeeping.db"))
	if err != nil {
		return nil, fmt.Errorf("opening bookkeeping store: %w", err)
	}

	salt, err := loadOrCreateSalt(bk)
	if err != nil {
		bk.Close()
		return nil, fmt.Errorf("loading salt: %w", err)
	}

	registry, err := registerPlugins(cfg.DataDir)
	if err != nil {
		bk.Close()
		return nil, err
	}

	proc := processor.New(processor.Config{
		Registry:         registry,
		Bookkeeping:      bk,
		Perms:            newStaticPermissions(cfg.PlatformApplicationID),
		Log:              log,
		Salt:             salt,
		MaxConcurrentOps: cfg.MaxConcurrentOps,
	})

	srv := httpapi.New(proc, cfg.ListenAddr, log)

	return &Daemon{cfg: cfg, log: log, bk: bk, proc: proc, srv: srv}, nil
}

// registerPlugins builds a registry carrying the broker's built-in
// plugins: AES-256-GCM encryption, plain sqlite storage, a fused
// encrypted-storage plugin, and an interactive terminal authentication
// plugin.
func registerPlugins(dataDir string) (*plugin.Registry, error) {
	registry := plugin.NewRegistry()

	registry.RegisterEncryption(aesgcm.New())

	storagePlugin, err := sqlitestorage.Open(filepath.Join(dataDir, "storage.db"))
	if err != nil {
		return nil, fmt.Errorf("opening storage plugin: %w", err)
	}
	registry.RegisterStorage(storagePlugin)

	encryptedStoragePlugin, err := fusedstore.Open(filepath.Join(dataDir, "encryptedstorage.db"))
	if err != nil {
		return nil, fmt.Errorf("opening encrypted-storage plugin: %w", err)
	}
	registry.RegisterEncryptedStorage(encryptedStoragePlugin)

	registry.RegisterAuthentication(interactiveauth.New())

	return registry, nil
}

// loadOrCreateSalt returns the process-wide salt used for every
// per-collection and per-secret subkey derivation, generating and
// persisting a fresh one on first run.
func loadOrCreateSalt(bk *bookkeeping.DB) ([]byte, error) {
	existing, err := bk.GetMeta(saltMetaKey)
	if err == nil && existing != "" {
		return []byte(existing), nil
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	if err := bk.SetMeta(saltMetaKey, string(salt)); err != nil {
		return nil, fmt.Errorf("persisting salt: %w", err)
	}
	return salt, nil
}

// Start begins serving the HTTP transport and returns its listener so
// callers can learn the bound address.
func (d *Daemon) Start() (net.Listener, error) {
	return d.srv.Start()
}

// Stop gracefully shuts the transport down and closes the bookkeeping
// store.
func (d *Daemon) Stop(ctx context.Context) error {
	err := d.srv.Stop(ctx)
	if cerr := d.bk.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Addr returns the address the transport will listen on.
func (d *Daemon) Addr() string { return d.cfg.ListenAddr }
