package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/onsi/gomega"
)

func TestBackoffNext(t *testing.T) {
	g := gomega.NewWithT(t)

	cases := []struct {
		name     string
		backoff  Backoff
		attempts int
		want     time.Duration
	}{
		{"zero value retries immediately", Backoff{}, 3, 0},
		{"fixed ignores attempts", Fixed(5 * time.Second), 1, 5 * time.Second},
		{"fixed later attempt", Fixed(5 * time.Second), 4, 5 * time.Second},
		{"exponential first retry", Exponential(time.Second), 1, time.Second},
		{"exponential second retry", Exponential(time.Second), 2, 2 * time.Second},
		{"exponential third retry", Exponential(time.Second), 3, 4 * time.Second},
		{"exponential clamps low attempts", Exponential(time.Second), 0, time.Second},
	}
	for _, c := range cases {
		g.Expect(c.backoff.Next(c.attempts)).To(gomega.Equal(c.want), c.name)
	}
}

func TestBackoffNextDoesNotOverflow(t *testing.T) {
	g := gomega.NewWithT(t)

	d := Exponential(time.Millisecond).Next(500)
	g.Expect(d).To(gomega.BeNumerically(">", 0))
	g.Expect(d).To(gomega.Equal(time.Millisecond * (1 << maxShift)))

	// 10s << 30 no longer fits in a Duration.
	for _, attempts := range []int{31, 35, 1000} {
		d = Exponential(10 * time.Second).Next(attempts)
		g.Expect(d).To(gomega.Equal(time.Duration(math.MaxInt64)), "attempts %d", attempts)
	}
	g.Expect(Exponential(10 * time.Second).Next(4)).To(gomega.Equal(80 * time.Second))
	g.Expect(Exponential(time.Duration(math.MaxInt64)).Next(2)).To(gomega.Equal(time.Duration(math.MaxInt64)))
}

func TestOptionsNormalize(t *testing.T) {
	g := gomega.NewWithT(t)

	o := Options{MaxAttempts: 0, Delay: -time.Second}.Normalize()
	g.Expect(o.MaxAttempts).To(gomega.Equal(1))
	g.Expect(o.Delay).To(gomega.BeZero())

	o = Options{MaxAttempts: 3}.Normalize()
	g.Expect(o.MaxAttempts).To(gomega.Equal(3))
}

func TestParseState(t *testing.T) {
	g := gomega.NewWithT(t)

	s, ok := ParseState("delayed")
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(s).To(gomega.Equal(StateDelayed))

	_, ok = ParseState("archived")
	g.Expect(ok).To(gomega.BeFalse())

	g.Expect(StateCompleted.Terminal()).To(gomega.BeTrue())
	g.Expect(StateFailed.Terminal()).To(gomega.BeTrue())
	g.Expect(StateDelayed.Terminal()).To(gomega.BeFalse())
}

func TestCloneDoesNotShareBuffers(t *testing.T) {
	g := gomega.NewWithT(t)

	now := time.Now()
	j := Job{ID: "a", Payload: json.RawMessage(`{"bun":"x"}`), FinishedAt: &now}
	c := j.Clone()
	c.Payload[2] = 'X'
	*c.FinishedAt = now.Add(time.Hour)

	g.Expect(string(j.Payload)).To(gomega.Equal(`{"bun":"x"}`))
	g.Expect(*j.FinishedAt).To(gomega.Equal(now))
}

func TestHandlerErrorUnwraps(t *testing.T) {
	g := gomega.NewWithT(t)

	cause := errors.New("burned")
	var err error = fmt.Errorf("attempt: %w", &HandlerError{JobID: "j1", Attempt: 2, Err: cause})

	g.Expect(errors.Is(err, cause)).To(gomega.BeTrue())
	var he *HandlerError
	g.Expect(errors.As(err, &he)).To(gomega.BeTrue())
	g.Expect(he.Attempt).To(gomega.Equal(2))
	g.Expect(he.Error()).To(gomega.Equal("job j1 attempt 2: burned"))
}
