// Package replica 维护客户端本地的 piece table 副本：
// 本地编辑先乐观应用再发送，服务端流按到达顺序应用，服务端顺序就是真相。
package replica

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"collabText/backend/internal/btep"
	"collabText/backend/internal/piecetable"
)

var (
	ErrAuthRejected = errors.New("replica: server rejected credentials")
	ErrBadHandshake = errors.New("replica: unexpected handshake reply")
)

// Replica 一个客户端的本地文档副本
type Replica struct {
	mu   sync.RWMutex
	doc  *piecetable.PieceTable
	id   uint32
	conn net.Conn

	// onRemote 在应用完一条服务端消息后回调，渲染协作方靠它刷新。
	// 在读协程上调用，不要在里面做慢事情。
	onRemote func(btep.Message)
}

// Connect 在给定连接上完成 Hello → 状态字节 → Join(快照) 握手。
// credentials 原样传给服务端的鉴权协作方。
func Connect(conn net.Conn, name string, credentials []byte) (*Replica, error) {
	hello := btep.Hello{Version: btep.ProtoVersion, Name: name, Credentials: credentials}
	if err := btep.WriteMessage(conn, hello); err != nil {
		return nil, err
	}

	var status [1]byte
	if _, err := io.ReadFull(conn, status[:]); err != nil {
		return nil, err
	}
	if status[0] != 0 {
		return nil, fmt.Errorf("%w: status %d", ErrAuthRejected, status[0])
	}

	msg, err := btep.ReadMessage(conn)
	if err != nil {
		return nil, err
	}
	join, ok := msg.(btep.Join)
	if !ok {
		return nil, fmt.Errorf("%w: got op 0x%02x", ErrBadHandshake, msg.OpCode())
	}

	doc := piecetable.NewPieceTable(join.Snapshot)
	if err := doc.AddClient(join.AssignedID); err != nil {
		return nil, err
	}
	return &Replica{doc: doc, id: join.AssignedID, conn: conn}, nil
}

// ID 服务端分配的客户端编号
func (r *Replica) ID() uint32 { return r.id }

// OnRemote 注册远端变更回调
func (r *Replica) OnRemote(fn func(btep.Message)) {
	r.mu.Lock()
	r.onRemote = fn
	r.mu.Unlock()
}

// Len 当前本地文档长度
func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.Len()
}

// Snapshot 当前本地文档内容
func (r *Replica) Snapshot() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.Snapshot()
}

// Insert 本地乐观插入并把操作发给服务端
func (r *Replica) Insert(pos int, data []byte) error {
	r.mu.Lock()
	if err := r.doc.Insert(r.id, pos, data); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	return btep.WriteMessage(r.conn, btep.Insert{
		ClientID: r.id,
		Position: uint64(pos),
		Data:     data,
	})
}

// Delete 本地乐观删除并把操作发给服务端
func (r *Replica) Delete(pos, length int) error {
	r.mu.Lock()
	if err := r.doc.Delete(pos, length); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	return btep.WriteMessage(r.conn, btep.Delete{
		ClientID: r.id,
		Position: uint64(pos),
		Length:   uint64(length),
	})
}

// Run 消费服务端流直到连接关闭。通常 go 出去。
func (r *Replica) Run() error {
	for {
		msg, err := btep.ReadMessage(r.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if err := r.apply(msg); err != nil {
			return err
		}
		r.mu.RLock()
		fn := r.onRemote
		r.mu.RUnlock()
		if fn != nil {
			fn(msg)
		}
	}
}

// apply 按服务端定下的顺序应用一条消息
func (r *Replica) apply(msg btep.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch m := msg.(type) {
	case btep.Insert:
		// 晚加入者可能没见过老同伴的 Join 信号，第一次见到就补分配缓冲区
		if !r.doc.HasClient(m.ClientID) {
			if err := r.doc.AddClient(m.ClientID); err != nil {
				return err
			}
		}
		return r.doc.Insert(m.ClientID, int(m.Position), m.Data)
	case btep.Delete:
		return r.doc.Delete(int(m.Position), int(m.Length))
	case btep.Join:
		// 同伴加入：给它分配空缓冲区（snapshot_len = 0 的形态）
		if r.doc.HasClient(m.AssignedID) {
			return nil
		}
		return r.doc.AddClient(m.AssignedID)
	case btep.Leave:
		// 同伴的 piece 留在文档里，缓冲区保留，无结构性动作
		log.Printf("peer %d left", m.ClientID)
		return nil
	case btep.FullSync:
		// 本地状态作废，从快照重建
		doc := piecetable.NewPieceTable(m.Snapshot)
		if err := doc.AddClient(r.id); err != nil {
			return err
		}
		r.doc = doc
		return nil
	default:
		return fmt.Errorf("replica: unexpected op 0x%02x from server", msg.OpCode())
	}
}

// Close 关闭连接，Run 随之返回
func (r *Replica) Close() error {
	return r.conn.Close()
}
