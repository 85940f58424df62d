package client

import (
	"context"
	"os"
	"testing"
	"time"

	"burger-queue/pkg/job"

	"github.com/onsi/gomega"
)

// TestLiveServer runs against a deployed server, e.g.
// API_URL=http://localhost:3000 PREP_STEP_INTERVAL=10ms on the server side.
func TestLiveServer(t *testing.T) {
	base := os.Getenv("API_URL")
	if base == "" {
		t.Skip("API_URL not set")
	}
	g := gomega.NewWithT(t)
	c := New(base)
	ctx := context.Background()

	t.Logf("waiting for API at %s", base)
	g.Eventually(func() error { return c.Health(ctx) }, 60*time.Second, 2*time.Second).Should(gomega.Succeed())

	placed, err := c.PlaceOrder(ctx, nil)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(placed.JobID).NotTo(gomega.BeEmpty())

	// Burned burgers are remade, so either terminal state is acceptable.
	g.Eventually(func() job.State {
		view, err := c.GetOrder(ctx, placed.JobID)
		if err != nil {
			return ""
		}
		g.Expect(view.Attempts).To(gomega.BeNumerically("<=", view.MaxAttempts))
		return view.Status
	}, 2*time.Minute, time.Second).Should(gomega.BeElementOf(job.StateCompleted, job.StateFailed))
}
