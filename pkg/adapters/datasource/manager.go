package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/apperrors"
	"github.com/seclens/seclens-engine/pkg/logging"
	"github.com/seclens/seclens-engine/pkg/retry"
)

// Manager holds the named connection specs scans can target and opens
// adapter connections for them. Specs are registered once at startup from
// configuration; Open is called per scan and the caller owns the returned
// connection until Close.
type Manager struct {
	mu     sync.RWMutex
	specs  map[string]ConnectionSpec
	logger *zap.Logger
}

// NewManager creates an empty connection manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		specs:  make(map[string]ConnectionSpec),
		logger: logger.Named("connections"),
	}
}

// RegisterSpec adds a named connection spec. The spec must be valid, its
// adapter type registered, and its id unused.
func (m *Manager) RegisterSpec(spec ConnectionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if !IsRegistered(spec.Type) {
		return fmt.Errorf("%w: no adapter registered for type %q", apperrors.ErrInvalidInput, spec.Type)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.specs[spec.ID]; exists {
		return fmt.Errorf("%w: duplicate connection id %q", apperrors.ErrInvalidInput, spec.ID)
	}
	m.specs[spec.ID] = spec

	m.logger.Info("registered connection",
		zap.String("id", spec.ID),
		zap.String("type", spec.Type),
		zap.String("host", spec.DisplayHost()),
	)
	return nil
}

// HasConnection reports whether a connection id is registered.
func (m *Manager) HasConnection(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.specs[id]
	return ok
}

// Spec returns the spec registered under id.
func (m *Manager) Spec(id string) (ConnectionSpec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.specs[id]
	return spec, ok
}

// Specs returns all registered specs sorted by id.
func (m *Manager) Specs() []ConnectionSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ConnectionSpec, 0, len(m.specs))
	for _, spec := range m.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Open resolves a connection id and opens an adapter connection for it.
// Transient connect failures are retried; the final error wraps
// apperrors.ErrDatabaseConnection with credentials stripped.
func (m *Manager) Open(ctx context.Context, connectionID string) (Connection, error) {
	spec, ok := m.Spec(connectionID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown connection %q", apperrors.ErrInvalidInput, connectionID)
	}

	connector := GetConnector(spec.Type, m.logger)
	if connector == nil {
		return nil, fmt.Errorf("%w: no adapter registered for type %q", apperrors.ErrInvalidInput, spec.Type)
	}

	conn, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (Connection, error) {
		return connector.Open(ctx, spec)
	})
	if err != nil {
		m.logger.Warn("failed to open connection",
			zap.String("id", spec.ID),
			zap.String("host", spec.DisplayHost()),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("%w: %s: %s", apperrors.ErrDatabaseConnection, spec.DisplayHost(), logging.SanitizeError(err))
	}

	m.logger.Debug("opened connection",
		zap.String("id", spec.ID),
		zap.String("host", spec.DisplayHost()),
		zap.String("product", conn.ProductName()),
	)
	return conn, nil
}
