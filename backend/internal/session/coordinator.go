// Package session 实现服务端权威：接受连接、分配客户端编号、
// 把编辑操作排成全序、应用到权威 piece table、落盘并广播给同伴。
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"collabText/backend/internal/auth"
	"collabText/backend/internal/btep"
	"collabText/backend/internal/cache"
	"collabText/backend/internal/collab"
	"collabText/backend/internal/piecetable"
	"collabText/backend/internal/store"
)

var ErrClosed = errors.New("session: coordinator closed")

// presence TTL，心跳由每次 join/op 续期的语义简化为 join 一次性写入
const presenceTTL = 600 * time.Second

type inboundKind int

const (
	joinReq inboundKind = iota
	leaveReq
	editReq
)

type joinResult struct {
	id  uint32
	err error
}

type inbound struct {
	kind  inboundKind
	conn  *Conn
	msg   btep.Message
	reply chan joinResult
}

// Options 组装协调器。File / Presence / Events 都可以为 nil。
type Options struct {
	Initial  []byte
	DocName  string
	Auth     auth.Authenticator
	File     *store.FileStore
	Presence cache.PresenceCache
	Events   *collab.KafkaDispatcher
}

// Coordinator 持有权威文档和权威操作日志序号。
// 文档的全部修改都由唯一的权威协程执行：操作序号、MWPT 修改顺序、
// 每个同伴连接上的写出顺序三者因此必然一致。
type Coordinator struct {
	doc     *piecetable.PieceTable
	docName string
	auth    auth.Authenticator

	file     *store.FileStore
	presence cache.PresenceCache
	events   *collab.KafkaDispatcher

	handshakeSem *collab.SemaphoreControl

	submit chan inbound
	done   chan struct{}
	closed sync.Once

	// 以下状态只归权威协程访问
	conns  map[uint32]*Conn
	nextID uint32
	seq    uint64

	// 读侧快照（测试与监控）
	mu      sync.RWMutex
	seqView uint64
}

func NewCoordinator(opts Options) *Coordinator {
	a := opts.Auth
	if a == nil {
		a = auth.Open{}
	}
	co := &Coordinator{
		doc:          piecetable.NewPieceTable(opts.Initial),
		docName:      opts.DocName,
		auth:         a,
		file:         opts.File,
		presence:     opts.Presence,
		events:       opts.Events,
		handshakeSem: collab.NewSemaphoreControl(),
		submit:       make(chan inbound, 1024),
		done:         make(chan struct{}),
		conns:        make(map[uint32]*Conn),
	}
	go co.authorityLoop()
	return co
}

// Document 权威文档（测试用读入口）
func (co *Coordinator) Document() *piecetable.PieceTable { return co.doc }

// Seq 最近分配的操作序号
func (co *Coordinator) Seq() uint64 {
	co.mu.RLock()
	defer co.mu.RUnlock()
	return co.seqView
}

// Close 停止权威协程并断开所有连接
func (co *Coordinator) Close() {
	co.closed.Do(func() { close(co.done) })
}

// authorityLoop 是唯一的写者。join/leave 也走这里，
// 保证快照、编号分配和操作应用之间没有缝隙。
func (co *Coordinator) authorityLoop() {
	for {
		select {
		case <-co.done:
			for _, c := range co.conns {
				close(c.send)
				c.c.Close()
			}
			co.conns = map[uint32]*Conn{}
			return
		case in := <-co.submit:
			switch in.kind {
			case joinReq:
				co.handleJoin(in)
			case leaveReq:
				co.removeConn(in.conn, "peer left")
			case editReq:
				co.handleEdit(in)
			}
		}
	}
}

func (co *Coordinator) handleJoin(in inbound) {
	co.nextID++
	id := co.nextID
	if err := co.doc.AddClient(id); err != nil {
		in.reply <- joinResult{err: err}
		return
	}
	c := in.conn
	c.id = id
	co.conns[id] = c

	// 新人先拿快照，再让同伴分配空缓冲区；两步都在权威协程里完成，
	// 之后的任何操作都排在这两条消息后面
	co.enqueue(c, btep.Join{AssignedID: id, Snapshot: co.doc.Snapshot()})
	co.broadcast(id, btep.Join{AssignedID: id})

	if co.presence != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := co.presence.AddMember(ctx, co.docName, id, c.name, presenceTTL); err != nil {
				log.Printf("presence add failed (client=%d): %v", id, err)
			}
		}()
	}
	if co.events != nil {
		co.events.Enqueue(collab.DocOpEvent{
			EventType: collab.EventClientJoined,
			Document:  co.docName,
			ClientID:  id,
			OpCode:    btep.OpJoin,
			AppliedAt: time.Now(),
		})
	}
	log.Printf("client %d (%s) joined, doc len=%d", id, c.name, co.doc.Len())
	in.reply <- joinResult{id: id}
}

func (co *Coordinator) handleEdit(in inbound) {
	c := in.conn
	if co.conns[c.id] != c {
		// 已经 Draining，迟到的操作丢弃
		return
	}

	var evt collab.DocOpEvent
	switch m := in.msg.(type) {
	case btep.Insert:
		if m.ClientID != c.id {
			log.Printf("client %d spoofed insert as %d, disconnecting", c.id, m.ClientID)
			co.removeConn(c, "spoofed client id")
			return
		}
		if err := co.doc.Insert(c.id, int(m.Position), m.Data); err != nil {
			// 越界操作没有拿到序号，其他同伴不受影响
			log.Printf("client %d insert rejected: %v", c.id, err)
			co.removeConn(c, "out-of-range insert")
			return
		}
		evt = collab.DocOpEvent{OpCode: btep.OpInsert, Position: m.Position, Length: uint64(len(m.Data))}
	case btep.Delete:
		if m.ClientID != c.id {
			log.Printf("client %d spoofed delete as %d, disconnecting", c.id, m.ClientID)
			co.removeConn(c, "spoofed client id")
			return
		}
		if err := co.doc.Delete(int(m.Position), int(m.Length)); err != nil {
			log.Printf("client %d delete rejected: %v", c.id, err)
			co.removeConn(c, "out-of-range delete")
			return
		}
		evt = collab.DocOpEvent{OpCode: btep.OpDelete, Position: m.Position, Length: m.Length}
	default:
		// Active 态只接受 Insert/Delete
		log.Printf("client %d sent unexpected op 0x%02x, disconnecting", c.id, in.msg.OpCode())
		co.removeConn(c, "unexpected op")
		return
	}

	co.seq++
	co.mu.Lock()
	co.seqView = co.seq
	co.mu.Unlock()

	if co.file != nil {
		co.file.Notify()
	}
	if co.events != nil {
		evt.EventType = collab.EventOpApplied
		evt.Document = co.docName
		evt.Seq = co.seq
		evt.ClientID = c.id
		evt.AppliedAt = time.Now()
		co.events.Enqueue(evt)
	}

	co.broadcast(c.id, in.msg)
}

// broadcast 给 except 之外的所有 Active 连接入队。
// 入不了队的就是积压超限的慢同伴，按策略断开。
func (co *Coordinator) broadcast(except uint32, m btep.Message) {
	var slow []*Conn
	for id, c := range co.conns {
		if id == except {
			continue
		}
		select {
		case c.send <- m:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		log.Printf("client %d outbound queue full, disconnecting", c.id)
		co.removeConn(c, "slow peer")
	}
}

// removeConn 进入 Draining：移出广播集合、通知同伴。
// 该客户端的缓冲区保留，编号不复用。幂等。
func (co *Coordinator) removeConn(c *Conn, reason string) {
	if co.conns[c.id] != c {
		return
	}
	delete(co.conns, c.id)
	close(c.send)
	c.c.Close()
	log.Printf("client %d draining: %s", c.id, reason)

	if co.presence != nil {
		id := c.id
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := co.presence.RemoveMember(ctx, co.docName, id); err != nil {
				log.Printf("presence remove failed (client=%d): %v", id, err)
			}
		}()
	}
	if co.events != nil {
		co.events.Enqueue(collab.DocOpEvent{
			EventType: collab.EventClientLeft,
			Document:  co.docName,
			ClientID:  c.id,
			OpCode:    btep.OpLeave,
			AppliedAt: time.Now(),
		})
	}

	co.broadcast(c.id, btep.Leave{ClientID: c.id})
}

func (co *Coordinator) enqueue(c *Conn, m btep.Message) {
	select {
	case c.send <- m:
	default:
		co.removeConn(c, "slow peer")
	}
}
