package pending

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/segmentio/kafka-go"

	"github.com/zapfluxo/zapfluxo/internal/audit"
	"github.com/zapfluxo/zapfluxo/internal/metrics"
)

// NotifyFunc delivers a human-readable expiry message to a conversation.
type NotifyFunc func(chatID, message string) error

// KafkaConfig configures the cleaner's distributed mode.
type KafkaConfig struct {
	Brokers       string
	Topic         string
	ConsumerGroup string
}

// Cleaner removes expired pending confirmations in batches, auditing and
// notifying each one. It runs either on a local timer or, when a Kafka
// backend is configured, as the handler of a repeating sweep-tick job.
// The observable behavior is identical in both modes.
type Cleaner struct {
	store *Store

	mu   sync.Mutex
	cron *cron.Cron
}

// NewCleaner creates a cleaner over the store.
func NewCleaner(store *Store) *Cleaner {
	return &Cleaner{store: store}
}

// SweepOnce deletes every entry whose TTL has lapsed, audits each as
// expired, invokes notify per removed entry (one notifier failure never
// blocks the rest of the batch), and bumps the expirations counter by the
// removed count. The returned slice is empty, never nil, when nothing
// expired; callers treat both shapes identically.
func (c *Cleaner) SweepOnce(ctx context.Context, notify NotifyFunc) ([]Confirmation, error) {
	removed := []Confirmation{}
	err := withRetry("sweep batch", func() error {
		rows, err := c.store.db.QueryContext(ctx,
			`DELETE FROM pending_confirmations WHERE expires_at_ms <= ?
			 RETURNING `+confirmationColumns, time.Now().UnixMilli())
		if err != nil {
			return err
		}
		defer rows.Close()
		removed = removed[:0]
		for rows.Next() {
			entry, err := scanConfirmation(rows)
			if err != nil {
				return err
			}
			removed = append(removed, *entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	for i := range removed {
		entry := &removed[i]
		if c.store.audit != nil {
			e := &audit.Entry{
				ChatID:     entry.ChatID,
				ActionType: "expired",
				Text:       fmt.Sprintf("pending confirmation expired after %s: %s", entry.ExpiresAt.Sub(entry.CreatedAt), entry.OriginalText),
			}
			if entry.Intent != nil {
				e.IntentID = entry.Intent.IntentID
				e.IntentScore = entry.Intent.Score
			}
			if err := c.store.audit.Append(ctx, e); err != nil {
				slog.Warn("failed to audit expiry", "chat_id", entry.ChatID, "error", err)
			}
		}
		if notify != nil {
			c.notifyOne(notify, entry.ChatID)
		}
	}
	if c.store.metrics != nil {
		c.store.metrics.Increment(metrics.CounterExpirations, int64(len(removed)))
	}
	return removed, nil
}

func (c *Cleaner) notifyOne(notify NotifyFunc, chatID string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("expiry notifier panicked", "chat_id", chatID, "panic", rec)
		}
	}()
	msg := "Sua solicitação pendente expirou sem confirmação. Envie a mensagem novamente se ainda precisar."
	if err := notify(chatID, msg); err != nil {
		slog.Warn("expiry notification failed", "chat_id", chatID, "error", err)
	}
}

// StartPeriodic sweeps immediately, then on a fixed timer. The returned
// stop function cancels the timer and is safe to call repeatedly. Starting
// while already running stops the prior timer first.
func (c *Cleaner) StartPeriodic(interval time.Duration, notify NotifyFunc) func() {
	if interval <= 0 {
		interval = 60 * time.Second
	}

	c.mu.Lock()
	if c.cron != nil {
		c.cron.Stop()
	}
	runner := cron.New()
	c.cron = runner
	c.mu.Unlock()

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if _, err := c.SweepOnce(ctx, notify); err != nil {
			slog.Error("periodic sweep failed", "error", err)
		}
	}

	sweep()
	if _, err := runner.AddFunc(fmt.Sprintf("@every %ds", int(interval.Seconds())), sweep); err != nil {
		slog.Error("failed to schedule sweep", "error", err)
		return func() {}
	}
	runner.Start()

	var once sync.Once
	return func() {
		once.Do(func() {
			runner.Stop()
			c.mu.Lock()
			if c.cron == runner {
				c.cron = nil
			}
			c.mu.Unlock()
		})
	}
}

// StartDistributed runs the identical sweep logic as the handler of sweep
// ticks consumed from Kafka, while a scheduler goroutine publishes one tick
// per interval. Any instance in the consumer group may process a given
// tick. Returns an error when the broker is unreachable so the caller can
// fall back to StartPeriodic.
func (c *Cleaner) StartDistributed(ctx context.Context, cfg KafkaConfig, interval time.Duration, notify NotifyFunc) (func(), error) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	brokers := strings.Split(cfg.Brokers, ",")
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, fmt.Errorf("cleanup job backend unreachable: %w", err)
	}
	_ = conn.Close()

	runCtx, cancel := context.WithCancel(ctx)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
	}

	// Tick publisher.
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		publish := func() {
			msg := kafka.Message{Value: []byte(time.Now().UTC().Format(time.RFC3339))}
			if err := writer.WriteMessages(runCtx, msg); err != nil && runCtx.Err() == nil {
				slog.Warn("failed to publish sweep tick", "error", err)
			}
		}
		publish()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				publish()
			}
		}
	}()

	// Tick consumer: same sweep as the local timer.
	go func() {
		for {
			_, err := reader.ReadMessage(runCtx)
			if err != nil {
				if runCtx.Err() != nil {
					return
				}
				slog.Warn("sweep tick read error", "error", err)
				continue
			}
			if _, err := c.SweepOnce(runCtx, notify); err != nil {
				slog.Error("distributed sweep failed", "error", err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = reader.Close()
			_ = writer.Close()
		})
	}, nil
}

// ExpireNow forces a chat's entry into the past; used by tests and the
// one-shot sweep CLI's --force flag.
func (s *Store) ExpireNow(ctx context.Context, chatID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_confirmations SET expires_at_ms = ? WHERE chat_id = ?`,
		time.Now().Add(-time.Millisecond).UnixMilli(), chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
