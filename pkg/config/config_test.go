package config

import (
	"testing"
	"time"

	"github.com/onsi/gomega"
)

func TestLoadDefaults(t *testing.T) {
	g := gomega.NewWithT(t)
	t.Setenv("ENV", "production")

	var cfg Config
	g.Expect(Load(&cfg)).To(gomega.Succeed())
	g.Expect(cfg.Port).To(gomega.Equal(3000))
	g.Expect(cfg.QueueName).To(gomega.Equal("burger"))
	g.Expect(cfg.JournalURL).To(gomega.Equal("memory"))
	g.Expect(cfg.LeaseDuration).To(gomega.Equal(30 * time.Second))
	g.Expect(cfg.MaxStalls).To(gomega.Equal(1))
	g.Expect(cfg.InitialOrders).To(gomega.Equal(10))
	g.Expect(cfg.BurnRate).To(gomega.Equal(0.1))
	g.Expect(cfg.RabbitURL).To(gomega.BeEmpty())
	g.Expect(cfg.Production()).To(gomega.BeTrue())
	g.Expect(cfg.Validate()).To(gomega.Succeed())
}

func TestLoadOverrides(t *testing.T) {
	g := gomega.NewWithT(t)
	t.Setenv("ENV", "prod")
	t.Setenv("PORT", "8080")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("PREP_STEP_INTERVAL", "250ms")
	t.Setenv("JOURNAL_URL", "redis://localhost:6379/0")

	var cfg Config
	g.Expect(Load(&cfg)).To(gomega.Succeed())
	g.Expect(cfg.Port).To(gomega.Equal(8080))
	g.Expect(cfg.WorkerConcurrency).To(gomega.Equal(4))
	g.Expect(cfg.PrepStepInterval).To(gomega.Equal(250 * time.Millisecond))
	g.Expect(cfg.JournalURL).To(gomega.Equal("redis://localhost:6379/0"))
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	g := gomega.NewWithT(t)
	t.Setenv("ENV", "production")
	t.Setenv("LEASE_DURATION", "soon")

	var cfg Config
	g.Expect(Load(&cfg)).NotTo(gomega.Succeed())
}

func TestValidate(t *testing.T) {
	g := gomega.NewWithT(t)
	t.Setenv("ENV", "production")

	var cfg Config
	g.Expect(Load(&cfg)).To(gomega.Succeed())
	cfg.WorkerConcurrency = 0
	cfg.BurnRate = 1.5

	err := cfg.Validate()
	g.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("WORKER_CONCURRENCY")))
	g.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("BURN_RATE")))
}

func TestClientConfig(t *testing.T) {
	g := gomega.NewWithT(t)
	t.Setenv("ENV", "production")
	t.Setenv("API_URL", "http://kitchen:3000")

	var cfg ClientConfig
	g.Expect(Load(&cfg)).To(gomega.Succeed())
	g.Expect(cfg.APIURL).To(gomega.Equal("http://kitchen:3000"))
}
