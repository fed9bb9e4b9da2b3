package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrChangeNotFound is returned when no record exists for a change.
var ErrChangeNotFound = errors.New("change not found")

// RedisStore is the authoritative store for change records, frozen comments,
// check configuration and execution records. Redis serialises writes per key,
// which keeps a freeze followed by a reconcile for the same change
// linearizable without in-process locks.
type RedisStore struct {
	rdb  redis.Cmdable
	node *snowflake.Node
}

// NewRedisStore creates a store over the given redis client.
func NewRedisStore(rdb redis.Cmdable) (*RedisStore, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create id generator")
	}
	return &RedisStore{rdb: rdb, node: node}, nil
}

func changeKey(repoID string, number int) string {
	return fmt.Sprintf("change:%s:%d", repoID, number)
}

func frozenKey(changeID string) string {
	return "frozen:" + changeID
}

func checkConfigKey(repoID string) string {
	return "checkcfg:" + repoID
}

func executionKey(repoID, checkType string) string {
	return fmt.Sprintf("checkrun:%s:%s", repoID, checkType)
}

// CreateChange records the first sighting of a change. Calling it again for
// the same change is a no-op. Deliveries for the same change arrive
// concurrently, so all fields are written in one transaction with per field
// HSetNX: a racing reader sees either no record or a complete one, never a
// partial write.
func (s *RedisStore) CreateChange(ctx context.Context, repoID string, number int) error {
	key := changeKey(repoID, number)
	pipe := s.rdb.TxPipeline()
	pipe.HSetNX(ctx, key, "id", s.node.Generate().String())
	pipe.HSetNX(ctx, key, "repo_id", repoID)
	pipe.HSetNX(ctx, key, "number", strconv.Itoa(number))
	pipe.HSetNX(ctx, key, "last_push", time.Now().UTC().Format(time.RFC3339Nano))
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "failed to create change %s#%d", repoID, number)
}

// GetChange loads a change record.
func (s *RedisStore) GetChange(ctx context.Context, repoID string, number int) (Change, error) {
	fields, err := s.rdb.HGetAll(ctx, changeKey(repoID, number)).Result()
	if err != nil {
		return Change{}, errors.Wrapf(err, "failed to load change %s#%d", repoID, number)
	}
	if len(fields) == 0 {
		return Change{}, ErrChangeNotFound
	}
	lastPush, err := time.Parse(time.RFC3339Nano, fields["last_push"])
	if err != nil {
		return Change{}, errors.Wrapf(err, "corrupt last_push for change %s#%d", repoID, number)
	}
	return Change{
		ID:       fields["id"],
		RepoID:   repoID,
		Number:   number,
		LastPush: lastPush,
	}, nil
}

// TouchLastPush resets the approval window of a change to now.
func (s *RedisStore) TouchLastPush(ctx context.Context, repoID string, number int) error {
	err := s.rdb.HSet(ctx, changeKey(repoID, number), "last_push", time.Now().UTC().Format(time.RFC3339Nano)).Err()
	return errors.Wrapf(err, "failed to bump last push for change %s#%d", repoID, number)
}

// AddFrozenComment writes a tamper snapshot. The write is idempotent per
// comment id: only the first snapshot for an id is kept.
func (s *RedisStore) AddFrozenComment(ctx context.Context, changeID string, comment FrozenComment) error {
	comment.ChangeID = changeID
	data, err := json.Marshal(&comment)
	if err != nil {
		return errors.Wrap(err, "failed to marshal frozen comment")
	}
	err = s.rdb.HSetNX(ctx, frozenKey(changeID), strconv.Itoa(comment.ID), data).Err()
	return errors.Wrapf(err, "failed to freeze comment %d for change %s", comment.ID, changeID)
}

// FrozenComments returns the snapshots for a change created at or after since.
func (s *RedisStore) FrozenComments(ctx context.Context, changeID string, since time.Time) ([]FrozenComment, error) {
	fields, err := s.rdb.HGetAll(ctx, frozenKey(changeID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load frozen comments for change %s", changeID)
	}
	var comments []FrozenComment
	for id, data := range fields {
		var c FrozenComment
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, errors.Wrapf(err, "corrupt frozen comment %s for change %s", id, changeID)
		}
		if c.CreatedAt.Before(since) {
			continue
		}
		comments = append(comments, c)
	}
	return comments, nil
}

// CheckConfigs returns the check type to configuration map for a repository.
func (s *RedisStore) CheckConfigs(ctx context.Context, repoID string) (map[string]CheckConfig, error) {
	fields, err := s.rdb.HGetAll(ctx, checkConfigKey(repoID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load check configs for repo %s", repoID)
	}
	configs := map[string]CheckConfig{}
	for checkType, data := range fields {
		var cfg CheckConfig
		if err := json.Unmarshal([]byte(data), &cfg); err != nil {
			return nil, errors.Wrapf(err, "corrupt config for check %s on repo %s", checkType, repoID)
		}
		configs[checkType] = cfg
	}
	return configs, nil
}

// SetCheckConfig stores the configuration for one check type.
func (s *RedisStore) SetCheckConfig(ctx context.Context, repoID, checkType string, cfg CheckConfig) error {
	data, err := json.Marshal(&cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal check config")
	}
	err = s.rdb.HSet(ctx, checkConfigKey(repoID), checkType, data).Err()
	return errors.Wrapf(err, "failed to store config for check %s on repo %s", checkType, repoID)
}

// DeleteCheckConfig removes the configuration for one check type.
func (s *RedisStore) DeleteCheckConfig(ctx context.Context, repoID, checkType string) error {
	err := s.rdb.HDel(ctx, checkConfigKey(repoID), checkType).Err()
	return errors.Wrapf(err, "failed to delete config for check %s on repo %s", checkType, repoID)
}

// RecordExecutionStart overwrites the execution row for (repo, check) with the
// start of a new run.
func (s *RedisStore) RecordExecutionStart(ctx context.Context, repoID, checkType string, delay time.Duration) error {
	fields := map[string]interface{}{
		"last_execution_at": time.Now().UTC().Format(time.RFC3339Nano),
		"delay_ms":          strconv.FormatInt(delay.Milliseconds(), 10),
	}
	err := s.rdb.HSet(ctx, executionKey(repoID, checkType), fields).Err()
	return errors.Wrapf(err, "failed to record execution start for check %s on repo %s", checkType, repoID)
}

// RecordExecutionEnd completes the execution row for (repo, check).
func (s *RedisStore) RecordExecutionEnd(ctx context.Context, repoID, checkType string, duration time.Duration, successful bool) error {
	fields := map[string]interface{}{
		"duration_ms": strconv.FormatInt(duration.Milliseconds(), 10),
		"successful":  strconv.FormatBool(successful),
	}
	err := s.rdb.HSet(ctx, executionKey(repoID, checkType), fields).Err()
	return errors.Wrapf(err, "failed to record execution end for check %s on repo %s", checkType, repoID)
}

// ExecutionRecord reads the last run row for (repo, check).
func (s *RedisStore) ExecutionRecord(ctx context.Context, repoID, checkType string) (ExecutionRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, executionKey(repoID, checkType)).Result()
	if err != nil {
		return ExecutionRecord{}, errors.Wrapf(err, "failed to load execution record for check %s on repo %s", checkType, repoID)
	}
	rec := ExecutionRecord{RepoID: repoID, CheckType: checkType}
	if at := fields["last_execution_at"]; at != "" {
		rec.LastExecutionAt, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return ExecutionRecord{}, errors.Wrap(err, "corrupt last_execution_at")
		}
	}
	if ms := fields["delay_ms"]; ms != "" {
		v, err := strconv.ParseInt(ms, 10, 64)
		if err != nil {
			return ExecutionRecord{}, errors.Wrap(err, "corrupt delay_ms")
		}
		rec.Delay = time.Duration(v) * time.Millisecond
	}
	if ms := fields["duration_ms"]; ms != "" {
		v, err := strconv.ParseInt(ms, 10, 64)
		if err != nil {
			return ExecutionRecord{}, errors.Wrap(err, "corrupt duration_ms")
		}
		rec.Duration = time.Duration(v) * time.Millisecond
	}
	rec.Successful = fields["successful"] == "true"
	return rec, nil
}
