package storage

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ruteri/principality/config"
	"github.com/ruteri/principality/interfaces"
)

// Constructor opens a store for namespace from database options.
type Constructor func(cfg config.DatabaseConfig, namespace string, log *slog.Logger) (interfaces.Store, error)

// StoreFactory creates stores by backend name. Names are matched
// case-insensitively.
type StoreFactory struct {
	cfg          config.DatabaseConfig
	log          *slog.Logger
	constructors map[string]Constructor
}

// NewStoreFactory creates a factory with the built-in backends registered:
//   - local - LocalStore under cfg.Directory
//   - temp - EphemeralStore
//   - vault - Vault KV v2
//   - s3 - Amazon S3 or compatible object storage
//   - ipfs - IPFS mutable file system
func NewStoreFactory(cfg config.DatabaseConfig, log *slog.Logger) *StoreFactory {
	if log == nil {
		log = slog.Default()
	}
	sf := &StoreFactory{
		cfg:          cfg,
		log:          log,
		constructors: make(map[string]Constructor),
	}

	sf.Register("local", createLocalStore)
	sf.Register("temp", createEphemeralStore)
	sf.Register("vault", func(cfg config.DatabaseConfig, namespace string, log *slog.Logger) (interfaces.Store, error) {
		return NewVaultStore(cfg, namespace, log)
	})
	sf.Register("s3", func(cfg config.DatabaseConfig, namespace string, log *slog.Logger) (interfaces.Store, error) {
		return NewS3Store(cfg, namespace, log)
	})
	sf.Register("ipfs", func(cfg config.DatabaseConfig, namespace string, log *slog.Logger) (interfaces.Store, error) {
		return NewIPFSStore(cfg, namespace, log)
	})
	return sf
}

// Register adds or replaces the constructor for name.
func (sf *StoreFactory) Register(name string, c Constructor) {
	sf.constructors[normalizeBackendName(name)] = c
}

// Backends returns the registered backend names, sorted.
func (sf *StoreFactory) Backends() []string {
	names := make([]string, 0, len(sf.constructors))
	for name := range sf.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStore opens namespace on the backend called typeName. Unknown names
// fail with *interfaces.UnknownBackendError.
func (sf *StoreFactory) GetStore(typeName, namespace string) (interfaces.Store, error) {
	name := normalizeBackendName(typeName)
	construct, ok := sf.constructors[name]
	if !ok {
		return nil, &interfaces.UnknownBackendError{Requested: typeName, Known: sf.Backends()}
	}

	sf.log.Debug("Creating store",
		slog.String("backend", name),
		slog.String("namespace", namespace))

	store, err := construct(sf.cfg, namespace, sf.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store for %q: %w", name, namespace, err)
	}
	return store, nil
}

// DefaultStore opens namespace on the configured database.type.
func (sf *StoreFactory) DefaultStore(namespace string) (interfaces.Store, error) {
	return sf.GetStore(sf.cfg.Type, namespace)
}

func normalizeBackendName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func createLocalStore(cfg config.DatabaseConfig, namespace string, log *slog.Logger) (interfaces.Store, error) {
	return NewLocalStore(cfg.Directory, namespace, log)
}

func createEphemeralStore(_ config.DatabaseConfig, namespace string, _ *slog.Logger) (interfaces.Store, error) {
	return NewEphemeralStore(namespace), nil
}
