package obs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"aleutianrag/internal/ragtypes"
)

// DebatePublisher asynchronously publishes DebateLogRecords to an evaluation
// topic, mirroring original_source/.../verified.py's _log_debate comment
// ("Run this as a background task... but await is fine for local"). It is a
// best-effort side channel: a closed/unconfigured publisher silently drops
// records, since spec.md §7 already requires debate-log persistence
// failures to be logged and swallowed, never to block the run.
type DebatePublisher struct {
	writer *kafka.Writer
	queue  chan ragtypes.DebateLogRecord
	done   chan struct{}
}

// NewDebatePublisher starts a background worker publishing to brokers/topic.
// If brokers or topic is empty, the publisher runs as a no-op (every record
// is dropped without logging), matching "no OTLP endpoint configured" style
// graceful degradation used elsewhere in this package.
func NewDebatePublisher(brokers []string, topic string) *DebatePublisher {
	p := &DebatePublisher{
		queue: make(chan ragtypes.DebateLogRecord, 64),
		done:  make(chan struct{}),
	}
	if len(brokers) > 0 && topic != "" {
		p.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
		}
	}
	go p.run()
	return p
}

// Publish enqueues a record for background publication. It never blocks the
// caller's request path; a full queue drops the record being published.
// After Close, records are dropped silently.
func (p *DebatePublisher) Publish(rec ragtypes.DebateLogRecord) {
	defer func() { _ = recover() }() // send on the closed queue after Close
	select {
	case p.queue <- rec:
	default:
		log.Warn().Msg("obs: debate publish queue full, dropping record")
	}
}

func (p *DebatePublisher) run() {
	for rec := range p.queue {
		p.publishOne(rec)
	}
	close(p.done)
}

func (p *DebatePublisher) publishOne(rec ragtypes.DebateLogRecord) {
	if p.writer == nil {
		return
	}
	b, err := json.Marshal(rec.Truncated())
	if err != nil {
		log.Error().Err(err).Msg("obs: marshal debate record")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.SessionID),
		Value: b,
	}); err != nil {
		log.Warn().Err(err).Msg("obs: publish debate record failed, swallowing")
	}
}

// Close stops accepting new records and waits for the queue to drain.
func (p *DebatePublisher) Close() error {
	close(p.queue)
	<-p.done
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
