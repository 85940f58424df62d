package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"burger-queue/pkg/burger"
	"burger-queue/pkg/events"
	"burger-queue/pkg/job"
	"burger-queue/pkg/mq"

	"github.com/onsi/gomega"
)

func encoded(t *testing.T, evt events.Event) []byte {
	t.Helper()
	msg, err := mq.Encode(evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return msg.Body
}

func TestNotify(t *testing.T) {
	g := gomega.NewWithT(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	payload, _ := json.Marshal(burger.NewOrder(6))
	j := &job.Job{ID: "j7", Payload: payload}

	g.Expect(notify(logger, encoded(t, events.Event{Kind: events.KindCompleted, JobID: "j7", Job: j}))).To(gomega.Succeed())
	g.Expect(buf.String()).To(gomega.ContainSubstring("Sending notification: Burger #7 is ready!"))

	buf.Reset()
	g.Expect(notify(logger, encoded(t, events.Event{Kind: events.KindFailed, JobID: "j7", Job: j, Err: burger.ErrBurned, WillRetry: true}))).To(gomega.Succeed())
	g.Expect(buf.String()).To(gomega.ContainSubstring("being remade"))

	buf.Reset()
	g.Expect(notify(logger, encoded(t, events.Event{Kind: events.KindFailed, JobID: "j7", Job: j, Err: errors.New("grill offline")}))).To(gomega.Succeed())
	g.Expect(buf.String()).To(gomega.ContainSubstring("Burger #7 failed."))
	g.Expect(buf.String()).To(gomega.ContainSubstring("grill offline"))
}

func TestNotifyRejectsGarbage(t *testing.T) {
	g := gomega.NewWithT(t)
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	g.Expect(notify(logger, []byte("{"))).NotTo(gomega.Succeed())
}
