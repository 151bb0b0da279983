package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/principality/config"
	"github.com/ruteri/principality/interfaces"
)

// vaultKV addresses one namespace sub-tree of a Vault KV v2 mount:
//
//	<mount>/data/<namespace>/<kind>/<encoded name>
//	<mount>/metadata/<namespace>/<kind>/<encoded name>
type vaultKV struct {
	client    *api.Client
	mountPath string
	namespace string
	kind      string
	log       *slog.Logger
}

func (kv *vaultKV) dataPath(name string) string {
	return fmt.Sprintf("%s/data/%s/%s/%s", kv.mountPath, kv.namespace, kv.kind, encodeName(name))
}

func (kv *vaultKV) metadataPath(name string) string {
	return fmt.Sprintf("%s/metadata/%s/%s/%s", kv.mountPath, kv.namespace, kv.kind, encodeName(name))
}

func (kv *vaultKV) metadataDir() string {
	return fmt.Sprintf("%s/metadata/%s/%s", kv.mountPath, kv.namespace, kv.kind)
}

// read returns the inner KV v2 data map, or nil if the entry does not exist
// or its latest version was deleted.
func (kv *vaultKV) read(ctx context.Context, name string) (map[string]interface{}, error) {
	path := kv.dataPath(name)
	secret, err := kv.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		kv.log.Debug("Entry not found in Vault", slog.String("path", path))
		return nil, nil
	}

	// Extract data from the response (KV v2 format)
	raw, ok := secret.Data["data"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response at %s", path)
	}
	return data, nil
}

func (kv *vaultKV) write(ctx context.Context, name string, data map[string]interface{}) error {
	path := kv.dataPath(name)
	if _, err := kv.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{"data": data}); err != nil {
		return fmt.Errorf("failed to write to Vault: %w", err)
	}
	kv.log.Debug("Stored entry in Vault", slog.String("path", path))
	return nil
}

func (kv *vaultKV) exists(ctx context.Context, name string) (bool, error) {
	secret, err := kv.client.Logical().ReadWithContext(ctx, kv.metadataPath(name))
	if err != nil {
		return false, fmt.Errorf("failed to read metadata from Vault: %w", err)
	}
	return secret != nil && secret.Data != nil, nil
}

// remove deletes the metadata, and with it every version of the entry.
func (kv *vaultKV) remove(ctx context.Context, name string) error {
	path := kv.metadataPath(name)
	if _, err := kv.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("failed to delete from Vault: %w", err)
	}
	kv.log.Debug("Deleted entry from Vault", slog.String("path", path))
	return nil
}

func (kv *vaultKV) list(ctx context.Context) ([]string, error) {
	secret, err := kv.client.Logical().ListWithContext(ctx, kv.metadataDir())
	if err != nil {
		return nil, fmt.Errorf("failed to list Vault entries: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return []string{}, nil
	}

	rawKeys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return []string{}, nil
	}

	names := make([]string, 0, len(rawKeys))
	for _, raw := range rawKeys {
		encoded, ok := raw.(string)
		if !ok || strings.HasSuffix(encoded, "/") {
			continue
		}
		name, err := decodeName(encoded)
		if err != nil {
			kv.log.Warn("Skipping foreign Vault entry", slog.String("key", encoded), "err", err)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// VaultDrive stores blobs as base64 "content" fields in Vault KV v2.
type VaultDrive struct {
	kv *vaultKV
}

// Put writes data base64-encoded under the "content" field.
func (d *VaultDrive) Put(ctx context.Context, name string, data []byte) error {
	return d.kv.write(ctx, name, map[string]interface{}{
		"content": base64.StdEncoding.EncodeToString(data),
	})
}

// Get reads and decodes the blob. A missing or deleted entry is reported as found=false.
func (d *VaultDrive) Get(ctx context.Context, name string) ([]byte, bool, error) {
	data, err := d.kv.read(ctx, name)
	if err != nil || data == nil {
		return nil, false, err
	}

	content, ok := data["content"].(string)
	if !ok {
		return nil, false, fmt.Errorf("content key not found in Vault data for blob %s", name)
	}
	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, false, fmt.Errorf("invalid content encoding in Vault data for blob %s: %w", name, err)
	}
	return decoded, true, nil
}

// Stat checks the entry metadata without reading the content.
func (d *VaultDrive) Stat(ctx context.Context, name string) (bool, error) {
	return d.kv.exists(ctx, name)
}

// Delete removes every version of the blob.
func (d *VaultDrive) Delete(ctx context.Context, name string) error {
	return d.kv.remove(ctx, name)
}

// List returns the decoded names under the namespace blob directory.
func (d *VaultDrive) List(ctx context.Context) ([]string, error) {
	return d.kv.list(ctx)
}

// Ping uses the health endpoint to verify that Vault is initialized and unsealed.
func (d *VaultDrive) Ping(ctx context.Context) error {
	health, err := d.kv.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if !health.Initialized || health.Sealed {
		return fmt.Errorf("vault is not available (initialized=%t, sealed=%t)", health.Initialized, health.Sealed)
	}
	return nil
}

// VaultBase stores value envelopes in Vault KV v2.
type VaultBase struct {
	kv *vaultKV
}

// Put writes the envelope fields as the secret data.
func (b *VaultBase) Put(ctx context.Context, key string, record Envelope) error {
	return b.kv.write(ctx, key, record)
}

// Get reads the envelope for key and normalizes its value.
func (b *VaultBase) Get(ctx context.Context, key string) (Envelope, bool, error) {
	data, err := b.kv.read(ctx, key)
	if err != nil || data == nil {
		return nil, false, err
	}
	// The Vault client decodes numbers as json.Number.
	value, err := normalizeValue(data[envelopeValueField])
	if err != nil {
		return nil, false, fmt.Errorf("malformed record for key %s: %w", key, err)
	}
	record := Envelope(data)
	record[envelopeValueField] = value
	return record, true, nil
}

// Delete removes every version of the record for key.
func (b *VaultBase) Delete(ctx context.Context, key string) error {
	return b.kv.remove(ctx, key)
}

// VaultOptions configure NewVaultResources.
type VaultOptions struct {
	Address string
	Token   string
	// MountPath of the KV v2 engine, "secret" when empty.
	MountPath string
	// HTTPClient overrides the client built by the Vault SDK.
	HTTPClient *http.Client
	Timeout    time.Duration
	Log        *slog.Logger
}

// NewVaultResources creates the blob and record resources of namespace on a
// Vault KV v2 mount, authenticated with a token.
func NewVaultResources(opts VaultOptions, namespace string) (*VaultDrive, *VaultBase, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, nil, fmt.Errorf("%w: database.vault_token must be set to use Vault storage", interfaces.ErrConfiguration)
	}
	if opts.Address == "" {
		return nil, nil, fmt.Errorf("%w: database.vault_address must be set to use Vault storage", interfaces.ErrConfiguration)
	}
	if err := validateNamespace(namespace); err != nil {
		return nil, nil, err
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = opts.Address
	if opts.HTTPClient != nil {
		vaultConfig.HttpClient = opts.HTTPClient
	}
	if opts.Timeout > 0 {
		vaultConfig.Timeout = opts.Timeout
	}
	// Failed calls are surfaced, never retried.
	vaultConfig.MaxRetries = 0

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to create Vault client: %v", interfaces.ErrConfiguration, err)
	}
	client.SetToken(token)

	mountPath := strings.Trim(opts.MountPath, "/")
	if mountPath == "" {
		mountPath = "secret"
	}

	log = log.With(slog.String("vault", opts.Address), slog.String("mount", mountPath))
	newKV := func(kind string) *vaultKV {
		return &vaultKV{client: client, mountPath: mountPath, namespace: namespace, kind: kind, log: log}
	}
	return &VaultDrive{kv: newKV("blobs")}, &VaultBase{kv: newKV("values")}, nil
}

// NewVaultStore creates a RemoteStore backed by Vault from database options.
func NewVaultStore(cfg config.DatabaseConfig, namespace string, log *slog.Logger) (*RemoteStore, error) {
	drive, base, err := NewVaultResources(VaultOptions{
		Address:   cfg.VaultAddress,
		Token:     cfg.Token("vault"),
		MountPath: cfg.VaultMount,
		Timeout:   cfg.RemoteTimeout,
		Log:       log,
	}, namespace)
	if err != nil {
		return nil, err
	}

	return NewRemoteStore(namespace, drive, base, RemoteOptions{
		Service:     "vault",
		LocationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(cfg.VaultAddress, "https://"), "http://"), drive.kv.mountPath, namespace),
		Timeout:     cfg.RemoteTimeout,
		Log:         log,
	})
}
