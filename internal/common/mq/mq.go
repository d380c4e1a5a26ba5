package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"what2eat/internal/common/config"
)

const (
	OriginHeader = "x-origin"
	dlx          = "push_dlx"
	dlq          = "push_dlq"
)

// Client keeps consuming and publishing on separate channels; the publish
// channel runs in confirm mode.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	pub  *amqp.Channel
	acks <-chan amqp.Confirmation
	mu   sync.Mutex // one unconfirmed publish at a time
}

func Dial(c config.MQ) (*Client, error) {
	vhost := c.VHost
	if vhost == "" || vhost == "/" {
		vhost = ""
	}
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.User, c.Pass, c.Host, c.Port, vhost)
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := pub.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	acks := pub.NotifyPublish(make(chan amqp.Confirmation, 1))
	return &Client{conn: conn, ch: ch, pub: pub, acks: acks}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.pub != nil {
		_ = c.pub.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// NotifyClose reports connection loss so long-running loops can stop.
func (c *Client) NotifyClose() <-chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// DeclarePushTopology declares the push event topic exchange and its dead letter route.
func (c *Client) DeclarePushTopology(exchange string) error {
	if c == nil || c.ch == nil {
		return fmt.Errorf("nil channel")
	}
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := c.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return err
	}
	return c.ch.QueueBind(dlq, dlq, dlx, false, nil)
}

// DeclareInstanceQueue creates a server-named, exclusive queue bound to every group key.
// It disappears with the connection.
func (c *Client) DeclareInstanceQueue(exchange string) (string, error) {
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", err
	}
	if err := c.ch.QueueBind(q.Name, "group.*", exchange, false, nil); err != nil {
		return "", err
	}
	return q.Name, nil
}

// DeclareDurableQueue creates a named queue that survives restarts, dead-lettering rejects.
func (c *Client) DeclareDurableQueue(exchange, queue string) error {
	if _, err := c.ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		return err
	}
	return c.ch.QueueBind(queue, "group.*", exchange, false, nil)
}

// Publish sends a persistent message and waits for the broker's confirm.
func (c *Client) Publish(ctx context.Context, exchange, key, origin string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.pub.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		ContentType:  "application/json",
		Headers:      amqp.Table{OriginHeader: origin},
		Body:         body,
	})
	if err != nil {
		return err
	}
	select {
	case conf, ok := <-c.acks:
		if !ok {
			return errors.New("publish channel closed")
		}
		if !conf.Ack {
			return errors.New("publish NACK from broker")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Consume(queue, consumer string, prefetch int) (<-chan amqp.Delivery, error) {
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	return c.ch.Consume(queue, consumer, false, false, false, false, nil)
}

func RoutingKey(groupID string) string { return "group." + groupID }
