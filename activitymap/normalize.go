// Package activitymap flattens account activity events into records that
// downstream systems (audit logs, queues) can consume without importing the
// accounts package types.
package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/sirupsen/logrus"
)

const (
	MetadataKeyActorType  = "actor_type"
	MetadataKeyFromStatus = "from_status"
	MetadataKeyToStatus   = "to_status"
)

// Record is the flattened form of an accounts.ActivityEvent.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type options struct {
	channel    string
	objectType string
	now        func() time.Time
}

// Option customizes Normalize
type Option func(*options)

func WithChannel(channel string) Option {
	return func(o *options) {
		if channel = strings.TrimSpace(channel); channel != "" {
			o.channel = channel
		}
	}
}

func WithObjectType(objectType string) Option {
	return func(o *options) {
		if objectType = strings.TrimSpace(objectType); objectType != "" {
			o.objectType = objectType
		}
	}
}

// WithClock is used for events that carry no timestamp.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.now = clock
		}
	}
}

// Normalize converts event into a Record. The actor falls back to the
// account and then to "system".
func Normalize(event accounts.ActivityEvent, opts ...Option) Record {
	o := options{channel: "accounts", objectType: "account", now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = o.now()
	}

	actorID := strings.TrimSpace(event.Actor.ID)
	if actorID == "" {
		actorID = strings.TrimSpace(event.AccountID)
	}
	if actorID == "" {
		actorID = "system"
	}

	return Record{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: o.objectType,
		ObjectID:   strings.TrimSpace(event.AccountID),
		Channel:    o.channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt.UTC(),
	}
}

func metadata(event accounts.ActivityEvent) map[string]any {
	out := make(map[string]any, len(event.Metadata)+3)
	for k, v := range event.Metadata {
		out[k] = v
	}
	if t := strings.TrimSpace(event.Actor.Type); t != "" {
		if _, ok := out[MetadataKeyActorType]; !ok {
			out[MetadataKeyActorType] = t
		}
	}
	if event.FromStatus != "" {
		out[MetadataKeyFromStatus] = string(event.FromStatus)
	}
	if event.ToStatus != "" {
		out[MetadataKeyToStatus] = string(event.ToStatus)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// LogSink writes normalized records as structured log entries.
type LogSink struct {
	logger *logrus.Logger
	opts   []Option
}

var _ accounts.ActivitySink = (*LogSink)(nil)

func NewLogSink(logger *logrus.Logger, opts ...Option) *LogSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogSink{logger: logger, opts: opts}
}

func (s *LogSink) Record(ctx context.Context, event accounts.ActivityEvent) error {
	r := Normalize(event, s.opts...)
	fields := logrus.Fields{
		"actor_id":    r.ActorID,
		"verb":        r.Verb,
		"object_type": r.ObjectType,
		"channel":     r.Channel,
		"occurred_at": r.OccurredAt,
	}
	if r.ObjectID != "" {
		fields["object_id"] = r.ObjectID
	}
	if len(r.Metadata) > 0 {
		fields["metadata"] = r.Metadata
	}
	s.logger.WithContext(ctx).WithFields(fields).Info("activity")
	return nil
}
