package redis

import (
	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] - task key
// KEYS[2] - open tasks ZSET
// KEYS[3] - task sequence key
// ARGV[1] - task id
// ARGV[2] - spec
// ARGV[3] - secrets, empty if none
// ARGV[4] - current timestamp
var createTaskCmd = redis.NewScript(`
	local seq = redis.call("INCR", KEYS[3])
	redis.call("HSET", KEYS[1], "id", ARGV[1], "spec", ARGV[2], "status", "open", "created_at", ARGV[4], "seq", seq)
	if ARGV[3] ~= "" then
		redis.call("HSET", KEYS[1], "secrets", ARGV[3])
	end
	redis.call("ZADD", KEYS[2], seq, ARGV[1])
	return seq
`)

// Claims the oldest open task, or a processing task whose heartbeat is stale.
// KEYS[1] - open tasks ZSET
// KEYS[2] - processing tasks ZSET
// ARGV[1] - current timestamp
// ARGV[2] - heartbeats at or before this timestamp are stale
// ARGV[3] - key prefix
var claimTaskCmd = redis.NewScript(`
	local candidate = nil
	local candidateSeq = nil

	local open = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
	if #open > 0 then
		candidate = open[1]
		candidateSeq = tonumber(open[2])
	end

	local stale = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[2], "LIMIT", 0, 1)
	if #stale > 0 then
		local seq = tonumber(redis.call("HGET", ARGV[3] .. "task:" .. stale[1], "seq"))
		if candidate == nil or seq < candidateSeq then
			candidate = stale[1]
		end
	end

	if candidate == nil then
		return false
	end

	redis.call("ZREM", KEYS[1], candidate)
	redis.call("ZADD", KEYS[2], ARGV[1], candidate)
	redis.call("HSET", ARGV[3] .. "task:" .. candidate, "status", "processing", "last_heartbeat_at", ARGV[1])

	return candidate
`)

// Returns 0 if the task does not exist, -1 if it's not processing, 1 otherwise.
// KEYS[1] - task key
// KEYS[2] - processing tasks ZSET
// ARGV[1] - task id
// ARGV[2] - current timestamp
var heartbeatTaskCmd = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return 0
	end

	if redis.call("HGET", KEYS[1], "status") ~= "processing" then
		return -1
	end

	redis.call("HSET", KEYS[1], "last_heartbeat_at", ARGV[2])
	redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])

	return 1
`)

// Returns 0 if the task does not exist, -1 if it's not claimed, 1 otherwise.
// KEYS[1] - task key
// KEYS[2] - processing tasks ZSET
// KEYS[3] - task events stream
// KEYS[4] - event sequence key
// ARGV[1] - task id
// ARGV[2] - new status
// ARGV[3] - completion event body, empty if no event should be added
// ARGV[4] - current timestamp
// ARGV[5] - expiration in seconds, 0 to keep forever
var completeTaskCmd = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return 0
	end

	local status = redis.call("HGET", KEYS[1], "status")
	if status == "failed" or status == "completed" or status == "cancelled" then
		return 1
	end

	if status ~= "processing" then
		return -1
	end

	redis.call("HSET", KEYS[1], "status", ARGV[2])
	redis.call("ZREM", KEYS[2], ARGV[1])

	if ARGV[3] ~= "" then
		local eventID = redis.call("INCR", KEYS[4])
		redis.call("XADD", KEYS[3], "0-" .. eventID, "type", "completion", "body", ARGV[3], "created_at", ARGV[4])
	end

	if tonumber(ARGV[5]) > 0 then
		redis.call("EXPIRE", KEYS[1], ARGV[5])
		redis.call("EXPIRE", KEYS[3], ARGV[5])
	end

	return 1
`)

// Returns 0 if the task does not exist, 1 otherwise.
// KEYS[1] - task key
// KEYS[2] - open tasks ZSET
// KEYS[3] - processing tasks ZSET
// KEYS[4] - task events stream
// KEYS[5] - event sequence key
// ARGV[1] - task id
// ARGV[2] - cancelled event body
// ARGV[3] - current timestamp
// ARGV[4] - expiration in seconds, 0 to keep forever
var cancelTaskCmd = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return 0
	end

	local status = redis.call("HGET", KEYS[1], "status")
	if status == "failed" or status == "completed" or status == "cancelled" then
		return 1
	end

	redis.call("HSET", KEYS[1], "status", "cancelled")
	redis.call("ZREM", KEYS[2], ARGV[1])
	redis.call("ZREM", KEYS[3], ARGV[1])

	local eventID = redis.call("INCR", KEYS[5])
	redis.call("XADD", KEYS[4], "0-" .. eventID, "type", "cancelled", "body", ARGV[2], "created_at", ARGV[3])

	if tonumber(ARGV[4]) > 0 then
		redis.call("EXPIRE", KEYS[1], ARGV[4])
		redis.call("EXPIRE", KEYS[4], ARGV[4])
	end

	return 1
`)

// Returns 0 if the task does not exist, the new event id otherwise.
// KEYS[1] - task key
// KEYS[2] - task events stream
// KEYS[3] - event sequence key
// ARGV[1] - event type
// ARGV[2] - event body
// ARGV[3] - current timestamp
var addEventCmd = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return 0
	end

	local eventID = redis.call("INCR", KEYS[3])
	redis.call("XADD", KEYS[2], "0-" .. eventID, "type", ARGV[1], "body", ARGV[2], "created_at", ARGV[3])

	return eventID
`)
