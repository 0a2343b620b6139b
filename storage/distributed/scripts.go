package distributed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ScriptName is a closed enum of whitelisted script names: scripts are
// loaded only by a known name from an internal set, never an arbitrary
// path.
type ScriptName string

const (
	ScriptTokenBucket   ScriptName = "token_bucket"
	ScriptSlidingWindow ScriptName = "sliding_window"
	ScriptFixedWindow   ScriptName = "fixed_window"
)

var scriptSources = map[ScriptName]string{
	ScriptTokenBucket: tokenBucketLua,

	ScriptSlidingWindow: slidingWindowLua,

	ScriptFixedWindow: fixedWindowLua,
}

// contentHash returns the SHA-256 of a script source. Storage's script cache
// does not use it: the cache holds the SHA1 that SCRIPT LOAD returns, and a
// reloaded script's hash is not compared against a client-computed one.
func contentHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// lookupScript resolves a whitelisted name to its source, rejecting
// anything not in the internal set.
func lookupScript(name ScriptName) (string, error) {
	src, ok := scriptSources[name]
	if !ok {
		return "", fmt.Errorf("ratelimitcore: script %q is not on the whitelist", name)
	}
	return src, nil
}

// Each script's first lines carry a version marker.
const (
	tokenBucketLua = `-- version: 1
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local required = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil then
  tokens = capacity
  last_refill = now
end

local elapsed = now - last_refill
if elapsed < 0 then elapsed = 0 end
local available = math.min(capacity, tokens + elapsed * refill_rate)

local allowed = 0
if available >= required then
  allowed = 1
  available = available - required
end

redis.call('HMSET', key, 'tokens', tostring(available), 'last_refill', now)
redis.call('PEXPIRE', key, ttl_ms)

return {allowed, math.floor(available)}
`

	slidingWindowLua = `-- version: 1
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local cws = now - (now % window_ms)

local state = redis.call('HMGET', key, 'cur_start', 'cur_count', 'prev_start', 'prev_count')
local cur_start = tonumber(state[1])
local cur_count = tonumber(state[2]) or 0
local prev_start = tonumber(state[3])
local prev_count = tonumber(state[4]) or 0

if cur_start == nil then
  cur_start = cws
  cur_count = 0
  prev_start = nil
  prev_count = 0
elseif cws ~= cur_start then
  if cur_start == cws - window_ms then
    prev_start = cur_start
    prev_count = cur_count
  else
    prev_start = nil
    prev_count = 0
  end
  cur_start = cws
  cur_count = 0
end

local weight = 0
if prev_start ~= nil then
  local remaining = window_ms - (now - cws)
  if remaining < 0 then remaining = 0 end
  weight = remaining / window_ms
end

local estimated = prev_count * weight + cur_count

local allowed = 0
if estimated < limit then
  allowed = 1
  cur_count = cur_count + 1
end

redis.call('HMSET', key, 'cur_start', cur_start, 'cur_count', cur_count,
  'prev_start', prev_start or -1, 'prev_count', prev_count)
redis.call('PEXPIRE', key, ttl_ms)

local remaining = limit - (prev_count * weight + cur_count)
if remaining < 0 then remaining = 0 end

return {allowed, math.floor(remaining)}
`

	fixedWindowLua = `-- version: 1
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local wn = math.floor(now / window_ms)

local state = redis.call('HMGET', key, 'window_number', 'count')
local window_number = tonumber(state[1])
local count = tonumber(state[2]) or 0

if window_number == nil or wn > window_number then
  window_number = wn
  count = 0
end

local allowed = 0
if count < limit then
  allowed = 1
  count = count + 1
end

redis.call('HMSET', key, 'window_number', window_number, 'count', count)
redis.call('PEXPIRE', key, ttl_ms)

local remaining = limit - count
if remaining < 0 then remaining = 0 end

return {allowed, math.floor(remaining)}
`
)
