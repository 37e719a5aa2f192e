package queue

import "github.com/redis/go-redis/v9"

// Every state change of a job runs as one script so that the job hash,
// the state sets and the episode lock never disagree.
//
// Waiting score: -priority*1e13 + enqueuedAt(ms). Lower scores are claimed first.
// Priorities are bounded by model.MaxPriority so the score stays below 2^53.

// enqueue accepts a free episode or one reserved for this job ID, and makes the lock permanent.
// KEYS: lock, job, waiting
// ARGV: id, episodeID, sourcePath, priority, maxAttempts, nowMs
var enqueueScript = redis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if holder and holder ~= ARGV[1] then
	return 0
end
local state = redis.call('HGET', KEYS[2], 'state')
if state == 'waiting' or state == 'delayed' or state == 'active' then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
redis.call('HSET', KEYS[2],
	'id', ARGV[1],
	'episode_id', ARGV[2],
	'source_path', ARGV[3],
	'priority', ARGV[4],
	'attempt', 0,
	'max_attempts', ARGV[5],
	'state', 'waiting',
	'progress', 0,
	'created_at', ARGV[6],
	'enqueued_at', ARGV[6])
redis.call('ZADD', KEYS[3], -tonumber(ARGV[4]) * 1e13 + tonumber(ARGV[6]), ARGV[1])
return 1
`)

// unreserve frees a reservation that never became a job.
// KEYS: lock, job
// ARGV: id
var unreserveScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 0
end
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// find resolves the episode lock to its job while the job is still pending.
// KEYS: lock
// ARGV: jobKeyPrefix
var findScript = redis.NewScript(`
local id = redis.call('GET', KEYS[1])
if not id then
	return false
end
local state = redis.call('HGET', ARGV[1] .. id, 'state')
if state == 'waiting' or state == 'delayed' or state == 'active' then
	return id
end
return false
`)

// KEYS: waiting, delayed, active
// ARGV: jobKeyPrefix, nowMs, workerID
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[2])
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[2], id)
	local key = ARGV[1] .. id
	local priority = tonumber(redis.call('HGET', key, 'priority') or '0')
	redis.call('HSET', key, 'state', 'waiting', 'enqueued_at', now)
	redis.call('ZADD', KEYS[1], -priority * 1e13 + now, id)
end

local head = redis.call('ZRANGE', KEYS[1], 0, 0)
if #head == 0 then
	return false
end
local id = head[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[3], now, id)
redis.call('HSET', ARGV[1] .. id, 'state', 'active', 'worker_id', ARGV[3], 'started_at', now)
return id
`)

// KEYS: active, completed
// ARGV: jobKeyPrefix, lockKeyPrefix, id, nowMs
var ackScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[3]) == 0 then
	return 0
end
local key = ARGV[1] .. ARGV[3]
redis.call('HSET', key, 'state', 'completed', 'progress', 100, 'finished_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[3])
local lock = ARGV[2] .. redis.call('HGET', key, 'episode_id')
if redis.call('GET', lock) == ARGV[3] then
	redis.call('DEL', lock)
end
return 1
`)

// KEYS: active, delayed, failed
// ARGV: jobKeyPrefix, lockKeyPrefix, id, nowMs, lastError, backoffBaseMs
// Returns {attempt, terminal, delayMs}, or false if the job is not active.
var nackScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[3]) == 0 then
	return false
end
local key = ARGV[1] .. ARGV[3]
local now = tonumber(ARGV[4])
local attempt = redis.call('HINCRBY', key, 'attempt', 1)
local maxAttempts = tonumber(redis.call('HGET', key, 'max_attempts') or '1')
redis.call('HSET', key, 'last_error', ARGV[5], 'worker_id', '')

if attempt >= maxAttempts then
	redis.call('HSET', key, 'state', 'failed', 'finished_at', now)
	redis.call('ZADD', KEYS[3], now, ARGV[3])
	local lock = ARGV[2] .. redis.call('HGET', key, 'episode_id')
	if redis.call('GET', lock) == ARGV[3] then
		redis.call('DEL', lock)
	end
	return {attempt, 1, 0}
end

local delay = tonumber(ARGV[6]) * (2 ^ (attempt - 1))
redis.call('HSET', key, 'state', 'delayed')
redis.call('ZADD', KEYS[2], now + delay, ARGV[3])
return {attempt, 0, delay}
`)

// KEYS: waiting, delayed, active, completed, failed
// ARGV: jobKeyPrefix, lockKeyPrefix, id
var removeScript = redis.NewScript(`
local key = ARGV[1] .. ARGV[3]
local episode = redis.call('HGET', key, 'episode_id')
if not episode then
	return 0
end
for i = 1, 5 do
	redis.call('ZREM', KEYS[i], ARGV[3])
end
redis.call('DEL', key)
local lock = ARGV[2] .. episode
if redis.call('GET', lock) == ARGV[3] then
	redis.call('DEL', lock)
end
return 1
`)

// requeue returns active jobs to waiting at their original position.
// KEYS: active, waiting
// ARGV: jobKeyPrefix, cutoffMs, id (optional)
// Returns the requeued IDs.
var requeueScript = redis.NewScript(`
local ids
if ARGV[3] then
	if not redis.call('ZSCORE', KEYS[1], ARGV[3]) then
		return {}
	end
	ids = {ARGV[3]}
else
	ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2])
end
for _, id in ipairs(ids) do
	local key = ARGV[1] .. id
	redis.call('ZREM', KEYS[1], id)
	local priority = tonumber(redis.call('HGET', key, 'priority') or '0')
	local enqueued = tonumber(redis.call('HGET', key, 'enqueued_at') or '0')
	redis.call('HSET', key, 'state', 'waiting', 'worker_id', '')
	redis.call('ZADD', KEYS[2], -priority * 1e13 + enqueued, id)
end
return ids
`)

// KEYS: active
// ARGV: id, nowMs
var heartbeatScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
return 1
`)

// KEYS: active, job
// ARGV: id, progress
var progressScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
local current = tonumber(redis.call('HGET', KEYS[2], 'progress') or '0')
if tonumber(ARGV[2]) > current then
	redis.call('HSET', KEYS[2], 'progress', ARGV[2])
end
return 1
`)

// prune drops history entries older than the cutoff, then trims to keep entries.
// KEYS: history
// ARGV: jobKeyPrefix, cutoffMs, keep (negative keeps all)
var pruneScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2])
for _, id in ipairs(expired) do
	redis.call('DEL', ARGV[1] .. id)
	redis.call('ZREM', KEYS[1], id)
end
local removed = #expired
local keep = tonumber(ARGV[3])
if keep >= 0 then
	local excess = redis.call('ZCARD', KEYS[1]) - keep
	if excess > 0 then
		local oldest = redis.call('ZRANGE', KEYS[1], 0, excess - 1)
		for _, id in ipairs(oldest) do
			redis.call('DEL', ARGV[1] .. id)
			redis.call('ZREM', KEYS[1], id)
		end
		removed = removed + #oldest
	end
end
return removed
`)
