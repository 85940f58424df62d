package mq

import (
	"errors"
	"os"
	"testing"
	"time"

	"burger-queue/pkg/events"
	"burger-queue/pkg/job"

	"github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestRoutingKey(t *testing.T) {
	g := gomega.NewWithT(t)
	g.Expect(RoutingKey(events.KindCompleted)).To(gomega.Equal("job.completed"))
	g.Expect(RoutingKey(events.KindFailed)).To(gomega.Equal("job.failed"))
}

func TestEncodeDecode(t *testing.T) {
	g := gomega.NewWithT(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	evt := events.Event{
		Kind:      events.KindFailed,
		Queue:     "burger",
		JobID:     "b1",
		Job:       &job.Job{ID: "b1", State: job.StateDelayed, AttemptsMade: 1, MaxAttempts: 3},
		Err:       errors.New("Burger burned! Need to remake."),
		WillRetry: true,
		At:        at,
	}

	msg, err := Encode(evt)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(msg.ContentType).To(gomega.Equal("application/json"))
	g.Expect(msg.DeliveryMode).To(gomega.Equal(amqp.Persistent))
	g.Expect(msg.MessageId).To(gomega.Equal("b1"))
	g.Expect(msg.Type).To(gomega.Equal("failed"))

	got, reason, err := Decode(msg.Body)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(reason).To(gomega.Equal("Burger burned! Need to remake."))
	g.Expect(got.Kind).To(gomega.Equal(events.KindFailed))
	g.Expect(got.WillRetry).To(gomega.BeTrue())
	g.Expect(got.Job.AttemptsMade).To(gomega.Equal(1))
	g.Expect(got.At.Equal(at)).To(gomega.BeTrue())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	g := gomega.NewWithT(t)
	_, _, err := Decode([]byte("not json"))
	g.Expect(err).To(gomega.HaveOccurred())
}

func TestPublishAndConsume(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}
	g := gomega.NewWithT(t)

	c, err := New(url)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	defer c.Close()
	g.Expect(c.SetupTopology()).To(gomega.Succeed())

	deliveries, err := c.ConsumeNotifications()
	g.Expect(err).NotTo(gomega.HaveOccurred())

	bus := events.NewBus("mq-test", nil)
	c.Forward(bus)
	bus.Publish(events.Event{Kind: events.KindProgress, Queue: "burger", JobID: "skip-me"})
	bus.Publish(events.Event{Kind: events.KindCompleted, Queue: "burger", JobID: "done-1"})

	deadline := time.After(5 * time.Second)
	for {
		select {
		case d := <-deliveries:
			g.Expect(d.Ack(false)).To(gomega.Succeed())
			evt, _, err := Decode(d.Body)
			g.Expect(err).NotTo(gomega.HaveOccurred())
			g.Expect(evt.Kind).NotTo(gomega.Equal(events.KindProgress))
			if evt.JobID == "done-1" {
				return
			}
		case <-deadline:
			t.Fatal("completed notification not received")
		}
	}
}
