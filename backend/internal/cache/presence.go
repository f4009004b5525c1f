package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache 对外共享"谁在编辑这份文档"。协调器在 join/leave 时维护，
// 纯观测用途，协议正确性不依赖它。
type PresenceCache interface {
	AddMember(ctx context.Context, doc string, clientID uint32, name string, ttl time.Duration) error
	RemoveMember(ctx context.Context, doc string, clientID uint32) error
	GetAliveMembersWithNames(ctx context.Context, doc string) ([]PresenceMember, error)
}

type PresenceMember struct {
	ClientID uint32
	Name     string
}

// 具体实现：基于 redis 的 PresenceCache
type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) AddMember(ctx context.Context, doc string, clientID uint32, name string, ttl time.Duration) error {
	// 刷新 TTL 也直接调用 AddMember 即可
	tx := p.rdb.TxPipeline()
	// score 使用 expireAt（Unix 秒），表达"逻辑 TTL"
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(doc), redis.Z{Score: float64(expireAt), Member: uint64(clientID)})
	tx.HSet(ctx, namesKey(doc), uint64(clientID), name)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, doc string, clientID uint32) error {
	member := strconv.FormatUint(uint64(clientID), 10)
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(doc), member)
	tx.HDel(ctx, namesKey(doc), member)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) GetAliveMembersWithNames(ctx context.Context, doc string) ([]PresenceMember, error) {
	// step1: 先清理过期成员
	now := time.Now().Unix()
	luaScript := `
	-- KEYS[1] = roomKey(doc)
	-- KEYS[2] = namesKey(doc)
	-- ARGV[1] = now (unix seconds)

	local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	if #expired > 0 then
		redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
		redis.call("HDEL", KEYS[2], unpack(expired))
	end
	return #expired
	`
	script := redis.NewScript(luaScript)
	if _, err := script.Run(ctx, p.rdb, []string{roomKey(doc), namesKey(doc)}, now).Int(); err != nil && err != redis.Nil {
		return nil, err
	}

	// step2: 查询在线成员
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(doc), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: 批量取名字
	names, err := p.rdb.HMGet(ctx, namesKey(doc), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(aliveIDs))
	for i, idStr := range aliveIDs {
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			continue
		}
		name := ""
		if i < len(names) && names[i] != nil {
			name, _ = names[i].(string)
		}
		members = append(members, PresenceMember{ClientID: uint32(id), Name: name})
	}
	return members, nil
}
