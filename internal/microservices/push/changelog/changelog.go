// Package changelog keeps an append-only audit trail of feed events.
package changelog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"

	"what2eat/internal/domain"
)

type Writer interface {
	Append(ctx context.Context, ev domain.FeedEvent) error
	Close() error
}

type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

func (m *MultiWriter) Append(ctx context.Context, ev domain.FeedEvent) error {
	for _, w := range m.writers {
		if err := w.Append(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiWriter) Close() error {
	var first error
	for _, w := range m.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FileWriter appends one JSON event per line.
type FileWriter struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileWriter(dir, filename string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return &FileWriter{f: f}, nil
}

func (w *FileWriter) Append(_ context.Context, ev domain.FeedEvent) error {
	b, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// KafkaWriter publishes events keyed by group id, so a partition sees one group's events in order.
type KafkaWriter struct {
	writer kafkaMessageWriter
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// bootstrap can be a comma-separated list of host:port.
func NewKafkaWriter(bootstrap, topic string) *KafkaWriter {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		if a = strings.TrimSpace(a); a != "" {
			brokers = append(brokers, a)
		}
	}
	return &KafkaWriter{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func NewKafkaWriterWith(w kafkaMessageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}

func (k *KafkaWriter) Append(ctx context.Context, ev domain.FeedEvent) error {
	b, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.GroupID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventType)},
		},
	})
}

func (k *KafkaWriter) Close() error { return k.writer.Close() }

// Open builds the writer for sink: "file", "kafka" or "both". Anything else yields nil.
func Open(sink, dir, bootstrap, topic string) (Writer, error) {
	var ws []Writer
	if sink == "file" || sink == "both" {
		fw, err := NewFileWriter(dir, "push_events.jsonl")
		if err != nil {
			return nil, err
		}
		ws = append(ws, fw)
	}
	if sink == "kafka" || sink == "both" {
		ws = append(ws, NewKafkaWriter(bootstrap, topic))
	}
	switch len(ws) {
	case 0:
		return nil, nil
	case 1:
		return ws[0], nil
	}
	return NewMultiWriter(ws...), nil
}
