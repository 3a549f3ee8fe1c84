// Package redisstore provides a Redis-backed hitl.CounterStore, the
// production deployment target for the per-project HITLCounter. The
// decrement-if-positive operation runs as a Lua script so concurrent
// decrements across instances serialize atomically inside Redis, grounded
// on the claim-release Lua-script idiom of itsneelabh-gomind's
// orchestration.RedisCheckpointStore.releaseExpiredCheckpointClaim,
// adapted from check-and-delete to check-and-decrement.
package redisstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
)

const defaultKeyPrefix = "bmad-core"

// decrementScript atomically decrements the remaining field if it is
// greater than 0, returning the post-decrement value and 1 if it
// decremented, or the current value and 0 if it did not.
var decrementScript = redis.NewScript(`
local remaining = tonumber(redis.call("HGET", KEYS[1], "remaining"))
if remaining == nil then
	return {0, 0}
end
if remaining > 0 then
	local newval = redis.call("HINCRBY", KEYS[1], "remaining", -1)
	return {newval, 1}
end
return {remaining, 0}
`)

// CounterStore implements hitl.CounterStore over a Redis hash per project,
// keyed "{prefix}:hitl:counter:{project_id}" with fields remaining,
// initial_value, and enabled.
type CounterStore struct {
	client    *redis.Client
	keyPrefix string
}

// New constructs a CounterStore. keyPrefix defaults to "bmad-core".
func New(client *redis.Client, keyPrefix string) *CounterStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &CounterStore{client: client, keyPrefix: keyPrefix}
}

func (s *CounterStore) key(projectID string) string {
	return fmt.Sprintf("%s:hitl:counter:%s", s.keyPrefix, projectID)
}

// Get implements hitl.CounterStore.
func (s *CounterStore) Get(ctx context.Context, projectID string) (domain.HITLCounter, error) {
	vals, err := s.client.HGetAll(ctx, s.key(projectID)).Result()
	if err != nil {
		return domain.HITLCounter{}, correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	if len(vals) == 0 {
		return domain.HITLCounter{}, correrr.Newf(correrr.CodeNotFound, "no hitl counter for project %s", projectID)
	}
	return parseCounter(projectID, vals), nil
}

// Decrement implements hitl.CounterStore via the atomic Lua script.
func (s *CounterStore) Decrement(ctx context.Context, projectID string) (domain.HITLCounter, bool, error) {
	res, err := decrementScript.Run(ctx, s.client, []string{s.key(projectID)}).Result()
	if err != nil {
		return domain.HITLCounter{}, false, correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return domain.HITLCounter{}, false, correrr.New(correrr.CodeInternal, "redisstore: unexpected decrement script result shape")
	}
	remaining, _ := pair[0].(int64)
	decremented := pair[1].(int64) == 1

	counter, err := s.Get(ctx, projectID)
	if err != nil {
		return domain.HITLCounter{}, false, err
	}
	counter.Remaining = int(remaining)
	return counter, decremented, nil
}

// Refill implements hitl.CounterStore.
func (s *CounterStore) Refill(ctx context.Context, projectID string, value int) (domain.HITLCounter, error) {
	if err := s.client.HSet(ctx, s.key(projectID), "remaining", value, "initial_value", value).Err(); err != nil {
		return domain.HITLCounter{}, correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	return s.Get(ctx, projectID)
}

// SetEnabled implements hitl.CounterStore.
func (s *CounterStore) SetEnabled(ctx context.Context, projectID string, enabled bool) (domain.HITLCounter, error) {
	v := "0"
	if enabled {
		v = "1"
	}
	if err := s.client.HSet(ctx, s.key(projectID), "enabled", v).Err(); err != nil {
		return domain.HITLCounter{}, correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	return s.Get(ctx, projectID)
}

// EnsureProject initializes a project's counter hash if it doesn't
// already exist, matching inmem.CounterStore's lazy-init semantics.
func (s *CounterStore) EnsureProject(ctx context.Context, projectID string, initialValue int, enabled bool) (domain.HITLCounter, error) {
	key := s.key(projectID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return domain.HITLCounter{}, correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	if exists == 0 {
		v := "0"
		if enabled {
			v = "1"
		}
		if err := s.client.HSet(ctx, key, "remaining", initialValue, "initial_value", initialValue, "enabled", v).Err(); err != nil {
			return domain.HITLCounter{}, correrr.Wrap(correrr.CodeStorageUnavailable, err)
		}
	}
	return s.Get(ctx, projectID)
}

func parseCounter(projectID string, vals map[string]string) domain.HITLCounter {
	remaining, _ := strconv.Atoi(vals["remaining"])
	initial, _ := strconv.Atoi(vals["initial_value"])
	return domain.HITLCounter{
		ProjectID:    projectID,
		Remaining:    remaining,
		InitialValue: initial,
		Enabled:      vals["enabled"] == "1",
	}
}
