package ledger

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	_ Ledger  = (*RedisLedger)(nil)
	_ Granter = (*RedisLedger)(nil)
)

// debitScript checks and decrements the balance in one atomic step and appends
// the movement to a capped per-user journal.
//
// KEYS[1] balance key, KEYS[2] journal key
// ARGV[1] amount, ARGV[2] journal entry, ARGV[3] journal length
// Returns {1, newBalance} on success and {0, balance} when short.
var debitScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if balance < amount then
	return {0, balance}
end
local updated = redis.call('DECRBY', KEYS[1], amount)
redis.call('LPUSH', KEYS[2], ARGV[2])
redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[3]) - 1)
return {1, updated}
`)

// RedisConfig holds connection settings for the Redis-backed ledger.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TLS      bool

	// KeyPrefix namespaces balance keys; balances live at {prefix}:{userID}.
	KeyPrefix string

	// JournalLength caps the per-user movement journal. Default: 1000
	JournalLength int
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *RedisConfig) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "credits"
	}
	if c.JournalLength == 0 {
		c.JournalLength = 1000
	}
}

// NewRedisClient creates a Redis client and pings it with a short timeout.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg.ApplyDefaults()

	var tlsConf *tls.Config
	if cfg.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsConf,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Connected to Redis ledger")

	return client, nil
}

// RedisLedger keeps balances as integer keys in Redis.
type RedisLedger struct {
	client redis.UniversalClient
	cfg    RedisConfig
}

func NewRedisLedger(client redis.UniversalClient, cfg RedisConfig) *RedisLedger {
	cfg.ApplyDefaults()
	return &RedisLedger{client: client, cfg: cfg}
}

type journalEntry struct {
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	CreatedAt int64  `json:"createdAt"`
}

func (l *RedisLedger) Debit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	entry, err := json.Marshal(journalEntry{Amount: -amount, Reason: reason, CreatedAt: time.Now().UnixMilli()})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	res, err := debitScript.Run(ctx, l.client,
		[]string{l.balanceKey(userID), l.journalKey(userID)},
		amount, string(entry), l.cfg.JournalLength,
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("failed to debit %s: %w", userID, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("unexpected debit script reply: %v", res)
	}

	if res[0] == 0 {
		return res[1], ErrInsufficientCredits
	}

	return res[1], nil
}

// Grant adds credits to a user's balance.
func (l *RedisLedger) Grant(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	entry, err := json.Marshal(journalEntry{Amount: amount, Reason: reason, CreatedAt: time.Now().UnixMilli()})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	pipe := l.client.TxPipeline()
	incr := pipe.IncrBy(ctx, l.balanceKey(userID), amount)
	pipe.LPush(ctx, l.journalKey(userID), string(entry))
	pipe.LTrim(ctx, l.journalKey(userID), 0, int64(l.cfg.JournalLength-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to grant %s: %w", userID, err)
	}

	return incr.Val(), nil
}

func (l *RedisLedger) Balance(ctx context.Context, userID string) (int64, error) {
	balance, err := l.client.Get(ctx, l.balanceKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read balance for %s: %w", userID, err)
	}
	return balance, nil
}

func (l *RedisLedger) balanceKey(userID string) string {
	return l.cfg.KeyPrefix + ":" + userID
}

func (l *RedisLedger) journalKey(userID string) string {
	return l.cfg.KeyPrefix + ":journal:" + userID
}
