// Package tokenstore persists the vendor bearer token so a restart can skip
// the login round trip. The local file is authoritative; an optional S3
// bucket mirrors it for hosts without durable disks.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/zinguo/internal/config"
)

var remotePersistOK = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "zinguo_token_store_remote_persist_ok",
		Help: "Remote blob persistence health (1=ok, 0=error)",
	},
	[]string{"key"},
)

// MetricsCollectors returns collectors for the token store.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{remotePersistOK}
}

// Mirrored writes through to a local file and, when configured, a blob store.
// Remote failures are logged and reported but never fail the caller.
type Mirrored struct {
	local  *FileStore
	remote BlobStore
	key    string
	logger *slog.Logger
}

func NewMirrored(local *FileStore, remote BlobStore, key string, logger *slog.Logger) *Mirrored {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirrored{
		local:  local,
		remote: remote,
		key:    key,
		logger: logger.With("component", "tokenstore"),
	}
}

// FromConfig builds the configured store, or nil when persistence is off.
func FromConfig(cfg config.TokenStoreConfig, key string, logger *slog.Logger) (*Mirrored, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	local, err := NewFileStore(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	var remote BlobStore
	if cfg.BlobEnabled() {
		s3, err := NewS3Store(cfg)
		if err != nil {
			return nil, fmt.Errorf("token blob store: %w", err)
		}
		remote = s3
	}
	return NewMirrored(local, remote, key, logger), nil
}

// Load prefers the local file and falls back to the mirror, restoring the
// local copy from it.
func (m *Mirrored) Load(ctx context.Context) (string, error) {
	token, localErr := m.local.Load(ctx)
	if localErr == nil && token != "" {
		return token, nil
	}
	if m.remote == nil {
		return "", localErr
	}

	data, err := m.remote.Load(ctx, m.key)
	if errors.Is(err, ErrBlobNotFound) {
		return "", localErr
	}
	if err != nil {
		m.logger.Warn("load token mirror failed", "error", err)
		return "", localErr
	}
	state, err := DecodeState(data)
	if err != nil {
		return "", err
	}
	if err := m.local.Save(ctx, state.Token); err != nil {
		m.logger.Warn("restore local token state failed", "error", err)
	}
	return state.Token, nil
}

func (m *Mirrored) Save(ctx context.Context, token string) error {
	if err := m.local.Save(ctx, token); err != nil {
		return err
	}
	if m.remote == nil {
		return nil
	}
	data, err := encodeState(token)
	if err != nil {
		return err
	}
	if err := m.remote.Save(ctx, m.key, data); err != nil {
		remotePersistOK.WithLabelValues(m.key).Set(0)
		m.logger.Warn("mirror token state failed", "error", err)
		return nil
	}
	remotePersistOK.WithLabelValues(m.key).Set(1)
	return nil
}

func (m *Mirrored) Clear(ctx context.Context) error {
	localErr := m.local.Clear(ctx)
	if m.remote != nil {
		if err := m.remote.Delete(ctx, m.key); err != nil {
			remotePersistOK.WithLabelValues(m.key).Set(0)
			m.logger.Warn("clear token mirror failed", "error", err)
		}
	}
	return localErr
}
