package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"collabText/backend/internal/auth"
	"collabText/backend/internal/btep"
)

// 每连接出站队列容量，同时就是慢同伴的高水位
const sendHighWater = 256

// 握手不许无限期挂着占坑
const handshakeTimeout = 10 * time.Second

// 握手应答状态字节
const (
	statusOK      byte = 0
	statusAuthBad byte = 2
)

// Conn 是一条已接入的客户端连接。
// 读协程只解码并投递给权威协程，写协程按队列顺序发帧，
// 所以每个同伴观察到的操作顺序就是权威定下的顺序。
type Conn struct {
	c    net.Conn
	id   uint32
	name string
	send chan btep.Message
	co   *Coordinator

	drainOnce sync.Once
}

// HandleConn 驱动一条连接走完 Handshake → Active → Draining。
// 阻塞到连接结束，调用方通常 go 出去。
func (co *Coordinator) HandleConn(nc net.Conn) error {
	name, err := co.handshake(nc)
	if err != nil {
		nc.Close()
		return err
	}

	c := &Conn{
		c:    nc,
		name: name,
		send: make(chan btep.Message, sendHighWater),
		co:   co,
	}

	// 注册走权威协程，快照和编号分配不会跟并发编辑交错
	reply := make(chan joinResult, 1)
	select {
	case co.submit <- inbound{kind: joinReq, conn: c, reply: reply}:
	case <-co.done:
		nc.Close()
		return ErrClosed
	}
	var res joinResult
	select {
	case res = <-reply:
	case <-co.done:
		nc.Close()
		return ErrClosed
	}
	if res.err != nil {
		nc.Close()
		return res.err
	}

	go c.writeLoop()
	c.readLoop()
	return nil
}

// handshake 读 Hello、问鉴权协作方、回一个状态字节。
// 失败时不发 Join，不占用客户端编号。
func (co *Coordinator) handshake(nc net.Conn) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	if err := co.handshakeSem.Acquire(ctx); err != nil {
		return "", err
	}
	defer co.handshakeSem.Release()

	nc.SetDeadline(time.Now().Add(handshakeTimeout))
	defer nc.SetDeadline(time.Time{})

	msg, err := btep.ReadMessage(nc)
	if err != nil {
		return "", fmt.Errorf("session: handshake read: %w", err)
	}
	hello, ok := msg.(btep.Hello)
	if !ok {
		return "", fmt.Errorf("session: expected Hello, got op 0x%02x", msg.OpCode())
	}
	if hello.Version != btep.ProtoVersion {
		return "", fmt.Errorf("session: unsupported proto version %d", hello.Version)
	}

	name, err := co.auth.Approve(ctx, hello.Name, hello.Credentials)
	if err != nil {
		if errors.Is(err, auth.ErrRejected) {
			nc.Write([]byte{statusAuthBad})
			return "", err
		}
		// 鉴权协作方自身故障
		return "", err
	}
	if _, err := nc.Write([]byte{statusOK}); err != nil {
		return "", err
	}
	return name, nil
}

// readLoop 按到达顺序解码。坏帧只断开本连接，不影响会话。
func (c *Conn) readLoop() {
	defer c.drain()
	for {
		msg, err := btep.ReadMessage(c.c)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Printf("client %d read error: %v", c.id, err)
			}
			return
		}
		switch msg.(type) {
		case btep.Insert, btep.Delete:
		default:
			log.Printf("client %d sent op 0x%02x in active state", c.id, msg.OpCode())
			return
		}
		select {
		case c.co.submit <- inbound{kind: editReq, conn: c, msg: msg}:
		case <-c.co.done:
			return
		}
	}
}

// writeLoop 持续消费出站队列。send 由权威协程在 Draining 时关闭。
func (c *Conn) writeLoop() {
	for msg := range c.send {
		if err := btep.WriteMessage(c.c, msg); err != nil {
			// 广播写失败只影响本同伴，操作效果保留
			log.Printf("client %d write error: %v", c.id, err)
			c.drain()
			// 继续消费直到权威协程关掉队列，避免它阻塞
			for range c.send {
			}
			return
		}
	}
}

func (c *Conn) drain() {
	c.drainOnce.Do(func() {
		c.c.Close()
		select {
		case c.co.submit <- inbound{kind: leaveReq, conn: c}:
		case <-c.co.done:
		}
	})
}
