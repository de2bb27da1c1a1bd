package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	JobGenerate = "generate"
	JobRefine   = "refine"
)

// GenerateJob is a PRD request received over chat and processed by a
// worker. For refinements BasePRDID names the saved document to extend.
type GenerateJob struct {
	JobID          string    `json:"job_id"`
	Kind           string    `json:"kind"`
	ChatID         int64     `json:"chat_id"`
	UserID         int64     `json:"user_id"`
	MessageID      int64     `json:"message_id"`
	OwnerID        string    `json:"owner_id"`
	Platform       string    `json:"platform,omitempty"`
	Requirements   string    `json:"requirements"`
	ProjectContext string    `json:"project_context,omitempty"`
	BasePRDID      string    `json:"base_prd_id,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	Attempts       int       `json:"attempts"`
}

type StreamQueue struct {
	redis    *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
}

type Message struct {
	ID  string
	Job GenerateJob
}

func NewStreamQueue(rdb *redis.Client, stream, group, consumer string, block time.Duration) *StreamQueue {
	return &StreamQueue{
		redis:    rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    block,
	}
}

func (q *StreamQueue) EnsureGroup(ctx context.Context) error {
	if q == nil {
		return fmt.Errorf("queue is nil")
	}
	err := q.redis.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create stream group: %w", err)
	}
	return nil
}

func (q *StreamQueue) Enqueue(ctx context.Context, job GenerateJob) (string, error) {
	if job.Kind != JobGenerate && job.Kind != JobRefine {
		return "", fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if strings.TrimSpace(job.JobID) == "" {
		job.JobID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	id, err := q.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return id, nil
}

// Read blocks up to the configured duration for new jobs. Entries that do
// not decode are acknowledged and dropped so they are not redelivered.
func (q *StreamQueue) Read(ctx context.Context, count int64) ([]Message, error) {
	res, err := q.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    q.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var out []Message
	for _, st := range res {
		out = append(out, q.decode(ctx, st.Messages)...)
	}
	return out, nil
}

// Reclaim takes over entries that were delivered to some consumer but not
// acknowledged within minIdle, such as jobs interrupted by a restart.
func (q *StreamQueue) Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	msgs, _, err := q.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	return q.decode(ctx, msgs), nil
}

func (q *StreamQueue) decode(ctx context.Context, msgs []redis.XMessage) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		job, ok := decodeJob(m.Values["payload"])
		if !ok {
			_ = q.Ack(ctx, m.ID)
			continue
		}
		out = append(out, Message{ID: m.ID, Job: job})
	}
	return out
}

func decodeJob(raw any) (GenerateJob, bool) {
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return GenerateJob{}, false
	}
	var job GenerateJob
	if err := json.Unmarshal(b, &job); err != nil {
		return GenerateJob{}, false
	}
	return job, true
}

func (q *StreamQueue) Ack(ctx context.Context, messageID string) error {
	if err := q.redis.XAck(ctx, q.stream, q.group, messageID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.redis.XDel(ctx, q.stream, messageID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamQueue) Consumer() string {
	return q.consumer
}
