package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "18", cfg.TaxRatePercent.String())
	assert.Equal(t, int64(2500), cfg.DeliveryFeeCents)
	assert.Equal(t, int64(50000), cfg.FreeDeliveryThresholdCents)
	assert.Equal(t, 30*time.Second, cfg.PipelineTimeout)
	assert.True(t, cfg.RunMigrations)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("TAX_RATE_PERCENT", "5.5")
	t.Setenv("DELIVERY_FEE_CENTS", "0")
	t.Setenv("PIPELINE_TIMEOUT", "5s")
	t.Setenv("RUN_MIGRATIONS", "false")
	t.Setenv("RECONCILE_WORKERS", "nope")

	cfg := Load()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "5.5", cfg.TaxRatePercent.String())
	assert.Equal(t, int64(0), cfg.DeliveryFeeCents)
	assert.Equal(t, 5*time.Second, cfg.PipelineTimeout)
	assert.False(t, cfg.RunMigrations)
	assert.Equal(t, 4, cfg.ReconcileWorkers)
}
