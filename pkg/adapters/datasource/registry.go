package datasource

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// DriverInfo describes a registered adapter for discovery and logging.
type DriverInfo struct {
	Type        string `json:"type"`         // "postgres", "mssql"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`  // "Scan PostgreSQL 12+"
}

// DriverRegistration pairs adapter info with the factory that builds its
// connector.
type DriverRegistration struct {
	Info DriverInfo
	New  func(logger *zap.Logger) Connector
}

// driverTable maps adapter type names to registrations. Adapters register
// from init(), so registration and lookups may interleave.
type driverTable struct {
	mu     sync.RWMutex
	byType map[string]DriverRegistration
}

var drivers = driverTable{byType: make(map[string]DriverRegistration)}

func (t *driverTable) add(reg DriverRegistration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byType[reg.Info.Type] = reg
}

func (t *driverTable) lookup(dsType string) (DriverRegistration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	reg, ok := t.byType[dsType]
	return reg, ok
}

func (t *driverTable) list() []DriverInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	infos := make([]DriverInfo, 0, len(t.byType))
	for _, reg := range t.byType {
		infos = append(infos, reg.Info)
	}
	return infos
}

// Register makes an adapter available under its type name. Each adapter
// package calls this from init(). Registering a type again replaces the
// earlier entry.
func Register(reg DriverRegistration) {
	drivers.add(reg)
}

// RegisteredDrivers lists every registered adapter, sorted by type name.
func RegisteredDrivers() []DriverInfo {
	infos := drivers.list()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Type < infos[j].Type })
	return infos
}

// GetConnector builds a connector for the given adapter type, or nil when no
// adapter claims that type.
func GetConnector(dsType string, logger *zap.Logger) Connector {
	if reg, ok := drivers.lookup(dsType); ok {
		return reg.New(logger)
	}
	return nil
}

// IsRegistered reports whether an adapter claims the given type name.
func IsRegistered(dsType string) bool {
	_, ok := drivers.lookup(dsType)
	return ok
}
