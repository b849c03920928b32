package postgres

import (
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DriverRegistration{
		Info: datasource.DriverInfo{
			Type:        adapterType,
			DisplayName: "PostgreSQL",
			Description: "Scan PostgreSQL 12 and newer, including Aurora and Supabase",
		},
		New: func(logger *zap.Logger) datasource.Connector {
			return NewConnector(logger)
		},
	})
}
