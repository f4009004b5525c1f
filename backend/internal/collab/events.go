package collab

import "time"

// DocOpEvent 是发往 Kafka 的"操作已应用"事件，供外部消费者
// （审计、索引、回放）订阅。字段跟随权威日志，不参与协议本身。
type DocOpEvent struct {
	EventType string    `json:"eventType"` // 固定 "OP_APPLIED" / "CLIENT_JOINED" / "CLIENT_LEFT"
	Document  string    `json:"document"`
	Seq       uint64    `json:"seq"`
	ClientID  uint32    `json:"clientId"`
	OpCode    byte      `json:"opCode"`
	Position  uint64    `json:"position,omitempty"`
	Length    uint64    `json:"length,omitempty"`
	AppliedAt time.Time `json:"appliedAt"`
}

const (
	EventOpApplied    = "OP_APPLIED"
	EventClientJoined = "CLIENT_JOINED"
	EventClientLeft   = "CLIENT_LEFT"
)
