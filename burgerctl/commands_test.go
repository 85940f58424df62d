package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"burger-queue/pkg/api"
	"burger-queue/pkg/job"
	"burger-queue/pkg/queue"

	"github.com/onsi/gomega"
)

func newBackend(t *testing.T) (string, *queue.Queue) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	q := queue.New("burger", nil, queue.WithLogger(logger))
	srv := httptest.NewServer(api.New(q, logger).Handler())
	t.Cleanup(srv.Close)
	return srv.URL, q
}

func run(url string, args ...string) (string, error) {
	cmd := newRootCmd(url)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestOrderAndStatus(t *testing.T) {
	g := gomega.NewWithT(t)
	url, q := newBackend(t)

	out, err := run(url, "order", "--bun", "🥯", "--topping", "🥓", "--topping", "🧅")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(out).To(gomega.ContainSubstring("Burger order placed successfully"))
	g.Expect(out).To(gomega.ContainSubstring("🥯"))

	out, err = run(url, "batch", "-n", "3")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(out).To(gomega.ContainSubstring("Created 3 new burger jobs"))

	out, err = run(url, "status")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(out).To(gomega.MatchRegexp(`waiting:\s+4`))

	counts, _ := q.Counts(context.Background())
	g.Expect(counts[job.StateWaiting]).To(gomega.Equal(4))
}

func TestListAndControls(t *testing.T) {
	g := gomega.NewWithT(t)
	url, q := newBackend(t)
	ctx := context.Background()

	out, err := run(url, "list", "--state", "failed")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(out).To(gomega.ContainSubstring("No jobs found in state: failed"))

	j, err := q.Submit(ctx, map[string]any{"bun": "🍞"}, job.Options{})
	g.Expect(err).NotTo(gomega.HaveOccurred())

	out, err = run(url, "list")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(out).To(gomega.ContainSubstring(j.ID))

	_, err = run(url, "pause")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(q.IsPaused()).To(gomega.BeTrue())
	_, err = run(url, "resume")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(q.IsPaused()).To(gomega.BeFalse())

	out, err = run(url, "cancel", j.ID)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(out).To(gomega.ContainSubstring("cancel: " + j.ID + " ok"))

	out, err = run(url, "get", j.ID)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(out).To(gomega.ContainSubstring(`"status": "failed"`))

	_, err = run(url, "retry", j.ID)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	out, err = run(url, "drain")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(out).To(gomega.ContainSubstring("drained 1 jobs"))

	out, err = run(url, "clean", "--keep", "0")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(out).To(gomega.ContainSubstring("removed 0"))
}

func TestCommandErrors(t *testing.T) {
	g := gomega.NewWithT(t)
	url, _ := newBackend(t)

	_, err := run(url, "get", "missing")
	g.Expect(err).To(gomega.MatchError(job.ErrNotFound))

	_, err = run(url, "promote")
	g.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("--all")))

	out, err := run(url, "promote", "--all")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(out).To(gomega.ContainSubstring("promoted 0 jobs"))
}
