package main

import (
	"testing"
	"time"

	"github.com/onsi/gomega"
)

func TestSubmitInterval(t *testing.T) {
	g := gomega.NewWithT(t)

	cases := []struct {
		rps, concurrency int
		want             time.Duration
	}{
		{rps: 1, concurrency: 1, want: time.Second},
		{rps: 10, concurrency: 2, want: 200 * time.Millisecond},
		{rps: 2, concurrency: 5, want: 2500 * time.Millisecond},
		{rps: 0, concurrency: 0, want: time.Second},
		{rps: 1_000_000, concurrency: 1, want: time.Millisecond},
	}
	for _, c := range cases {
		g.Expect(submitInterval(c.rps, c.concurrency)).To(gomega.Equal(c.want), "rps=%d concurrency=%d", c.rps, c.concurrency)
	}
}
