package sqlite

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector expone las estadísticas de database/sql del archivo.
func (c *Conn) Collector() prometheus.Collector {
	return collectors.NewDBStatsCollector(c.db, "sqlite")
}
