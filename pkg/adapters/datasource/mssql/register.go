package mssql

import (
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DriverRegistration{
		Info: datasource.DriverInfo{
			Type:        adapterType,
			DisplayName: "Microsoft SQL Server",
			Description: "Scan SQL Server 2017+ and Azure SQL Database",
		},
		New: func(logger *zap.Logger) datasource.Connector {
			return NewConnector(logger)
		},
	})
}
