package audit

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Event is the compliance record emitted for every final verdict.
type Event struct {
	RepositoryID string
	ChangeNumber int
	CommitSHA    string
	Approvers    []string
	Vetoed       bool
	State        string
}

// Sink receives verdict events. A sink failure is fatal to the evaluation
// that produced the event: the engine surfaces it as an error verdict rather
// than swallowing it.
type Sink interface {
	Log(ctx context.Context, ev Event) error
}

// RedisSink appends events to a redis stream, giving the trail durability and
// replayability.
type RedisSink struct {
	rdb    redis.Cmdable
	stream string
}

// NewRedisSink creates a sink writing to the given stream.
func NewRedisSink(rdb redis.Cmdable, stream string) *RedisSink {
	if stream == "" {
		stream = "audit:verdicts"
	}
	return &RedisSink{rdb: rdb, stream: stream}
}

// Log appends one verdict event to the stream.
func (s *RedisSink) Log(ctx context.Context, ev Event) error {
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"repository_id": ev.RepositoryID,
			"change_number": strconv.Itoa(ev.ChangeNumber),
			"commit_sha":    ev.CommitSHA,
			"approvers":     strings.Join(ev.Approvers, ","),
			"vetoed":        strconv.FormatBool(ev.Vetoed),
			"state":         ev.State,
		},
	}).Err()
	return errors.Wrap(err, "failed to append audit event")
}

// LogrusSink writes events to the process log. Useful for development, not a
// durable trail.
type LogrusSink struct{}

// Log writes one verdict event.
func (LogrusSink) Log(ctx context.Context, ev Event) error {
	logrus.WithFields(logrus.Fields{
		"repository_id": ev.RepositoryID,
		"change_number": ev.ChangeNumber,
		"commit_sha":    ev.CommitSHA,
		"approvers":     ev.Approvers,
		"vetoed":        ev.Vetoed,
		"state":         ev.State,
	}).Info("Verdict published.")
	return nil
}
