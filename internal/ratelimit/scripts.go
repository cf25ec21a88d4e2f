package ratelimit

// tokenBucketScript refills and consumes a bucket atomically.
//
// KEYS[1]  bucket hash (fields: tokens, ts)
// ARGV[1]  capacity (burst limit)
// ARGV[2]  tokens added per interval (refill rate)
// ARGV[3]  interval in milliseconds
// ARGV[4]  now, epoch milliseconds
// ARGV[5]  cost
//
// Reply: {allowed 0|1, remaining tokens (floored), reset epoch ms, created 0|1}.
// A clock behind the stored ts refills nothing and never moves ts backwards.
const tokenBucketScript = `
local key      = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill   = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now      = tonumber(ARGV[4])
local cost     = tonumber(ARGV[5])

local state   = redis.call("HMGET", key, "tokens", "ts")
local tokens  = tonumber(state[1])
local ts      = tonumber(state[2])
local created = 0

if tokens == nil or ts == nil then
  tokens  = capacity
  ts      = now
  created = 1
end

local rate = refill / interval

if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rate)
  ts = now
end

local allowed = 0
local reset
if tokens >= cost then
  tokens  = tokens - cost
  allowed = 1
  reset   = now + math.ceil((capacity - tokens) / rate)
else
  reset   = now + math.ceil((cost - tokens) / rate)
end

redis.call("HSET", key, "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", key, math.ceil((capacity - tokens) / rate) + 1000)

return {allowed, math.floor(tokens), reset, created}
`

// listEnvironmentScript returns the bucket keys of an environment index set.
//
// KEYS[1]  environment index set
const listEnvironmentScript = `return redis.call("SMEMBERS", KEYS[1])`

// resetEnvironmentScript deletes the listed buckets and removes them from the
// environment index set. Every touched key is declared, so the script stays
// valid behind cluster proxies. Buckets indexed after the listing survive.
//
// KEYS[1]     environment index set
// KEYS[2..n]  bucket keys
//
// Reply: number of buckets deleted.
const resetEnvironmentScript = `
local removed = 0
for i = 2, #KEYS do
  removed = removed + redis.call("DEL", KEYS[i])
  redis.call("SREM", KEYS[1], KEYS[i])
end
if redis.call("SCARD", KEYS[1]) == 0 then
  redis.call("DEL", KEYS[1])
end
return removed
`
