package metrics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JWKSStat is one cached key set as seen at scrape time.
type JWKSStat struct {
	Endpoint  string
	Keys      int
	FetchedAt time.Time
}

type jwksCollector struct {
	snapshot func() []JWKSStat
	now      func() time.Time
	logger   *slog.Logger

	keysDesc *prometheus.Desc
	ageDesc  *prometheus.Desc
}

func newJWKSCollector(snapshot func() []JWKSStat, logger *slog.Logger) *jwksCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &jwksCollector{
		snapshot: snapshot,
		now:      time.Now,
		logger:   logger,
		keysDesc: prometheus.NewDesc(
			"spendwise_jwks_keys",
			"Number of usable signing keys in the cached key set.",
			[]string{"endpoint"},
			nil,
		),
		ageDesc: prometheus.NewDesc(
			"spendwise_jwks_age_seconds",
			"Seconds since the cached key set was fetched.",
			[]string{"endpoint"},
			nil,
		),
	}
}

func (c *jwksCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keysDesc
	ch <- c.ageDesc
}

func (c *jwksCollector) Collect(ch chan<- prometheus.Metric) {
	if c.snapshot == nil {
		return
	}
	now := c.now()
	for _, s := range c.snapshot() {
		emitGauge(ch, c.keysDesc, float64(s.Keys), s.Endpoint)
		emitGauge(ch, c.ageDesc, now.Sub(s.FetchedAt).Seconds(), s.Endpoint)
	}
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerJWKSCollectorOnce sync.Once

// RegisterJWKSCollector exports cache gauges from the given snapshot source.
// Only the first call registers.
func RegisterJWKSCollector(snapshot func() []JWKSStat, logger *slog.Logger) {
	registerJWKSCollectorOnce.Do(func() {
		c := newJWKSCollector(snapshot, logger)
		if err := prometheus.Register(c); err != nil {
			c.logger.Warn("jwks collector registration failed", "err", err)
		}
	})
}
