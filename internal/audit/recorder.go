package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reset-service/internal/bucketing"
	"reset-service/internal/client"
	"reset-service/internal/model"
	"reset-service/internal/util"
)

const insertEventQuery = `INSERT INTO reset_events
	(event_id, event_bucket, event_date, event_time, event_type, phone_hash, details)`

// Recorder fans reset events out to the Kafka stream and the ClickHouse
// audit table. Every sink is optional and every write is best effort: the
// reset flows never block or fail on audit problems.
type Recorder struct {
	producer *client.KafkaProducer
	store    *client.ClickHouseClient
	buckets  *bucketing.BucketingManager
	timeout  time.Duration
}

func NewRecorder(producer *client.KafkaProducer, store *client.ClickHouseClient, buckets *bucketing.BucketingManager) *Recorder {
	return &Recorder{
		producer: producer,
		store:    store,
		buckets:  buckets,
		timeout:  5 * time.Second,
	}
}

// Record stamps the event with an ID and bucket and writes it to the
// configured sinks. Failures are logged, never returned.
func (r *Recorder) Record(ctx context.Context, event *model.ResetEvent) {
	if r == nil {
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	event.EventDate = event.EventTime.Format("2006-01-02")
	if r.buckets != nil {
		event.EventBucket = r.buckets.GetEventBucket(event.PhoneHash)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if r.producer != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			util.Error("Failed to marshal reset event", zap.Error(err))
		} else if err := r.producer.ProduceMessage(ctx, []byte(event.PhoneHash), payload); err != nil {
			util.Warn("Failed to publish reset event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}

	if r.store != nil {
		err := r.store.Exec(ctx, insertEventQuery+" VALUES (?, ?, ?, ?, ?, ?, ?)",
			event.EventID,
			event.EventBucket,
			event.EventDate,
			event.EventTime,
			event.EventType,
			event.PhoneHash,
			event.Details,
		)
		if err != nil {
			util.Warn("Failed to store reset event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}
}
