package cache

import "fmt"

// 键语义：
// - roomKey(doc):   会话在线成员（ZSet<clientID, expireAtUnix>，score=expireAt）
// - namesKey(doc):  clientID→name 映射（Hash）

const (
	keyRoomFmt  = "presence:room:{doc:%s}"       // ZSet<clientID, expireAtUnix>
	keyNamesFmt = "presence:room:names:{doc:%s}" // Hash<clientID -> name>
)

func roomKey(doc string) string  { return fmt.Sprintf(keyRoomFmt, doc) }
func namesKey(doc string) string { return fmt.Sprintf(keyNamesFmt, doc) }
