package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type ctxKey struct{}

// WithRequestID stores the request id picked up by FromContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type Logger struct {
	service   string
	requestID string
	out       io.Writer
	mu        *sync.Mutex
	debug     bool
}

func New(service string) *Logger {
	return &Logger{service: service, out: os.Stdout, mu: &sync.Mutex{}, debug: os.Getenv("LOG_LEVEL") == "debug"}
}

// NewWithWriter is used by tests to capture output.
func NewWithWriter(service string, w io.Writer, debug bool) *Logger {
	return &Logger{service: service, out: w, mu: &sync.Mutex{}, debug: debug}
}

// FromContext returns a copy tagged with the request id carried by ctx.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	cp := *l
	cp.requestID = RequestID(ctx)
	return &cp
}

func (l *Logger) log(level, action, msg string, fields map[string]any, err error) {
	entry := map[string]any{
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"level":      level,
		"service":    l.service,
		"action":     action,
		"message":    msg,
		"hostname":   hostname(),
		"request_id": l.requestID,
	}
	for k, v := range fields {
		entry[k] = v
	}
	if err != nil {
		entry["error"] = map[string]any{"msg": err.Error(), "stack": fmt.Sprintf("%T", err)}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = json.NewEncoder(l.out).Encode(entry)
}

func (l *Logger) Info(action string, fields map[string]any) {
	l.log("INFO", action, action, fields, nil)
}
func (l *Logger) Debug(action string, fields map[string]any) {
	if l.debug {
		l.log("DEBUG", action, action, fields, nil)
	}
}
func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.log("ERROR", action, action, fields, err)
}

var (
	hostOnce sync.Once
	host     string
)

func hostname() string {
	hostOnce.Do(func() { host, _ = os.Hostname() })
	return host
}
