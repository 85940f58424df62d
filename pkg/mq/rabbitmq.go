package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"burger-queue/pkg/events"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

const (
	EventsExchange    = "burger.events"
	NotificationQueue = "burger.notifications"
	publishTimeout    = 5 * time.Second
)

// NotificationKinds are routed into NotificationQueue.
var NotificationKinds = []events.Kind{events.KindCompleted, events.KindFailed}

func New(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &Client{conn: conn, ch: ch}, nil
}

// RoutingKey is the topic key an event kind is published under.
func RoutingKey(kind events.Kind) string {
	return "job." + string(kind)
}

// SetupTopology declares the events exchange and the notification queue. Idempotent.
func (c *Client) SetupTopology() error {
	if err := c.ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := c.ch.QueueDeclare(NotificationQueue, true, false, false, false, nil); err != nil {
		return err
	}
	for _, k := range NotificationKinds {
		if err := c.ch.QueueBind(NotificationQueue, RoutingKey(k), EventsExchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// Encode builds the message for an event.
func Encode(evt events.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.JobID,
		Timestamp:    evt.At,
		Type:         string(evt.Kind),
		Body:         body,
	}, nil
}

// Decode parses a delivery body back into an event. Err is carried as text only.
func Decode(body []byte) (events.Event, string, error) {
	var wire struct {
		events.Event
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return events.Event{}, "", err
	}
	return wire.Event, wire.Error, nil
}

func (c *Client) PublishEvent(ctx context.Context, evt events.Event) error {
	msg, err := Encode(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return c.ch.PublishWithContext(ctx,
		EventsExchange,       // exchange
		RoutingKey(evt.Kind), // routing key
		false,                // mandatory
		false,                // immediate
		msg)
}

// Forward publishes every job event from bus to the exchange.
func (c *Client) Forward(bus *events.Bus) {
	for _, k := range events.JobKinds {
		bus.Subscribe(k, func(evt events.Event) error {
			return c.PublishEvent(context.Background(), evt)
		})
	}
}

func (c *Client) ConsumeNotifications() (<-chan amqp.Delivery, error) {
	return c.ch.Consume(
		NotificationQueue,
		"",    // consumer
		false, // auto-ack is false. We will manually ack.
		false,
		false,
		false,
		nil,
	)
}

func (c *Client) Close() {
	c.ch.Close()
	c.conn.Close()
}
