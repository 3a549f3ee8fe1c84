// Package redisqueue provides a Redis-backed, durable scheduler.Queue,
// grounded on itsneelabh-gomind's orchestration.RedisTaskQueue LPUSH/BRPOP
// pattern. It generalizes the teacher's single-list queue to one list per
// project and a shared set tracking which project lists currently have
// members, so BRPOP can block across every active project's list at once
// and service whichever becomes ready first without polling. When several
// lists already hold entries, BRPOP pops from the first non-empty key in
// the order SMEMBERS returned them; this is not the strict round-robin of
// scheduler/inmem.
package redisqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geniusboywonder/bmad-core/correrr"
)

const defaultKeyPrefix = "bmad-core"

// Queue implements scheduler.Queue over Redis lists.
type Queue struct {
	client    *redis.Client
	keyPrefix string
}

// New constructs a Queue. keyPrefix defaults to "bmad-core".
func New(client *redis.Client, keyPrefix string) *Queue {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Queue{client: client, keyPrefix: keyPrefix}
}

func (q *Queue) listKey(projectID string) string {
	return fmt.Sprintf("%s:scheduler:queue:%s", q.keyPrefix, projectID)
}

func (q *Queue) projectsSetKey() string {
	return fmt.Sprintf("%s:scheduler:active-projects", q.keyPrefix)
}

// Enqueue implements scheduler.Queue: LPUSH the task id onto the project's
// list and register the project in the active-projects set so Dequeue's
// BRPOP picks it up.
func (q *Queue) Enqueue(ctx context.Context, projectID, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.SAdd(ctx, q.projectsSetKey(), projectID)
	pipe.LPush(ctx, q.listKey(projectID), taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return correrr.Wrap(correrr.CodeQueueFull, err)
	}
	return nil
}

// Dequeue implements scheduler.Queue: BRPOP across every currently active
// project's list, blocking up to timeout. Projects are never removed from
// the active set (BRPOP leaves a drained key absent, so a stale membership
// entry costs only an extra key name in the BRPOP call, never a wrong
// result).
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (string, string, bool, error) {
	projects, err := q.client.SMembers(ctx, q.projectsSetKey()).Result()
	if err != nil {
		return "", "", false, correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	if len(projects) == 0 {
		return "", "", false, nil
	}

	keys := make([]string, len(projects))
	keyToProject := make(map[string]string, len(projects))
	for i, p := range projects {
		k := q.listKey(p)
		keys[i] = k
		keyToProject[k] = p
	}

	result, err := q.client.BRPop(ctx, timeout, keys...).Result()
	if err != nil {
		if err == redis.Nil {
			return "", "", false, nil
		}
		if ctx.Err() != nil {
			return "", "", false, ctx.Err()
		}
		return "", "", false, correrr.Wrap(correrr.CodeStorageUnavailable, err)
	}
	if len(result) < 2 {
		return "", "", false, correrr.New(correrr.CodeInternal, "redisqueue: unexpected BRPOP result shape")
	}

	projectID := keyToProject[result[0]]
	taskID := result[1]
	return projectID, taskID, true, nil
}
