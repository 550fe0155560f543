package pg

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolCollector expone gauges del pool pgx.
type poolCollector struct {
	pool *pgxpool.Pool

	acquiredDesc *prometheus.Desc
	idleDesc     *prometheus.Desc
	totalDesc    *prometheus.Desc
	maxDesc      *prometheus.Desc
	waitDesc     *prometheus.Desc
}

// Collector devuelve el collector de métricas del pool.
func (c *Conn) Collector() prometheus.Collector {
	return &poolCollector{
		pool:         c.pool,
		acquiredDesc: prometheus.NewDesc("vaultcore_pg_pool_acquired", "Conexiones adquiridas", nil, nil),
		idleDesc:     prometheus.NewDesc("vaultcore_pg_pool_idle", "Conexiones inactivas", nil, nil),
		totalDesc:    prometheus.NewDesc("vaultcore_pg_pool_total", "Conexiones abiertas", nil, nil),
		maxDesc:      prometheus.NewDesc("vaultcore_pg_pool_max", "Máximo de conexiones configurado", nil, nil),
		waitDesc:     prometheus.NewDesc("vaultcore_pg_pool_empty_acquire_total", "Acquires que tuvieron que esperar", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredDesc
	ch <- c.idleDesc
	ch <- c.totalDesc
	ch <- c.maxDesc
	ch <- c.waitDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	st := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(st.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(st.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(st.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.maxDesc, prometheus.GaugeValue, float64(st.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.waitDesc, prometheus.CounterValue, float64(st.EmptyAcquireCount()))
}
