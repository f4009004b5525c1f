// Package btep 实现二进制文本编辑协议：长度前缀帧 + 每种操作一对 encode/decode。
// 帧格式：u32 length | u8 op_code | payload[length-1]，整数一律大端。
package btep

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	OpInsert   byte = 0x01
	OpDelete   byte = 0x02
	OpJoin     byte = 0x03
	OpLeave    byte = 0x04
	OpFullSync byte = 0x05
	OpHello    byte = 0x06
)

// ProtoVersion 当前协议版本，Hello 里带上，服务端不认就拒绝
const ProtoVersion uint16 = 1

// 单帧上限。超过视为恶意/损坏帧，直接断开对端
const MaxFrameSize = 64 << 20

var (
	ErrFrameTooLarge = errors.New("btep: frame exceeds size limit")
	ErrEmptyFrame    = errors.New("btep: zero-length frame")
	ErrUnknownOp     = errors.New("btep: unknown op code")
	ErrShortPayload  = errors.New("btep: payload too short")
)

// Message 是所有线上操作的联合
type Message interface {
	OpCode() byte
	payload() []byte
}

// Insert：u32 client_id | u64 position | u32 byte_len | bytes
type Insert struct {
	ClientID uint32
	Position uint64
	Data     []byte
}

// Delete：u32 client_id | u64 position | u64 length
type Delete struct {
	ClientID uint32
	Position uint64
	Length   uint64
}

// Join：u32 assigned_id | u64 snapshot_len | snapshot_bytes。
// snapshot_len = 0 表示"有同伴加入，给它分配一个空缓冲区"。
type Join struct {
	AssignedID uint32
	Snapshot   []byte
}

// Leave：u32 client_id
type Leave struct {
	ClientID uint32
}

// FullSync：u64 snapshot_len | snapshot_bytes
type FullSync struct {
	Snapshot []byte
}

// Hello（客户端 → 服务端握手）：u16 proto_version | u16 name_len | name_bytes | credentials。
// credentials 对核心不透明，原样交给鉴权协作方。
type Hello struct {
	Version     uint16
	Name        string
	Credentials []byte
}

func (m Insert) OpCode() byte   { return OpInsert }
func (m Delete) OpCode() byte   { return OpDelete }
func (m Join) OpCode() byte     { return OpJoin }
func (m Leave) OpCode() byte    { return OpLeave }
func (m FullSync) OpCode() byte { return OpFullSync }
func (m Hello) OpCode() byte    { return OpHello }

func (m Insert) payload() []byte {
	buf := make([]byte, 0, 4+8+4+len(m.Data))
	buf = binary.BigEndian.AppendUint32(buf, m.ClientID)
	buf = binary.BigEndian.AppendUint64(buf, m.Position)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Data)))
	return append(buf, m.Data...)
}

func (m Delete) payload() []byte {
	buf := make([]byte, 0, 4+8+8)
	buf = binary.BigEndian.AppendUint32(buf, m.ClientID)
	buf = binary.BigEndian.AppendUint64(buf, m.Position)
	return binary.BigEndian.AppendUint64(buf, m.Length)
}

func (m Join) payload() []byte {
	buf := make([]byte, 0, 4+8+len(m.Snapshot))
	buf = binary.BigEndian.AppendUint32(buf, m.AssignedID)
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(m.Snapshot)))
	return append(buf, m.Snapshot...)
}

func (m Leave) payload() []byte {
	return binary.BigEndian.AppendUint32(nil, m.ClientID)
}

func (m FullSync) payload() []byte {
	buf := binary.BigEndian.AppendUint64(nil, uint64(len(m.Snapshot)))
	return append(buf, m.Snapshot...)
}

func (m Hello) payload() []byte {
	buf := make([]byte, 0, 2+2+len(m.Name)+len(m.Credentials))
	buf = binary.BigEndian.AppendUint16(buf, m.Version)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Name)))
	buf = append(buf, m.Name...)
	return append(buf, m.Credentials...)
}

func decodeInsert(p []byte) (Insert, error) {
	if len(p) < 16 {
		return Insert{}, fmt.Errorf("%w: insert header", ErrShortPayload)
	}
	n := binary.BigEndian.Uint32(p[12:16])
	if uint64(len(p)-16) != uint64(n) {
		return Insert{}, fmt.Errorf("%w: insert wants %d data bytes, has %d", ErrShortPayload, n, len(p)-16)
	}
	return Insert{
		ClientID: binary.BigEndian.Uint32(p[0:4]),
		Position: binary.BigEndian.Uint64(p[4:12]),
		Data:     append([]byte(nil), p[16:]...),
	}, nil
}

func decodeDelete(p []byte) (Delete, error) {
	if len(p) != 20 {
		return Delete{}, fmt.Errorf("%w: delete wants 20 bytes, has %d", ErrShortPayload, len(p))
	}
	return Delete{
		ClientID: binary.BigEndian.Uint32(p[0:4]),
		Position: binary.BigEndian.Uint64(p[4:12]),
		Length:   binary.BigEndian.Uint64(p[12:20]),
	}, nil
}

func decodeJoin(p []byte) (Join, error) {
	if len(p) < 12 {
		return Join{}, fmt.Errorf("%w: join header", ErrShortPayload)
	}
	n := binary.BigEndian.Uint64(p[4:12])
	if uint64(len(p)-12) != n {
		return Join{}, fmt.Errorf("%w: join wants %d snapshot bytes, has %d", ErrShortPayload, n, len(p)-12)
	}
	return Join{
		AssignedID: binary.BigEndian.Uint32(p[0:4]),
		Snapshot:   append([]byte(nil), p[12:]...),
	}, nil
}

func decodeLeave(p []byte) (Leave, error) {
	if len(p) != 4 {
		return Leave{}, fmt.Errorf("%w: leave wants 4 bytes, has %d", ErrShortPayload, len(p))
	}
	return Leave{ClientID: binary.BigEndian.Uint32(p)}, nil
}

func decodeFullSync(p []byte) (FullSync, error) {
	if len(p) < 8 {
		return FullSync{}, fmt.Errorf("%w: fullsync header", ErrShortPayload)
	}
	n := binary.BigEndian.Uint64(p[0:8])
	if uint64(len(p)-8) != n {
		return FullSync{}, fmt.Errorf("%w: fullsync wants %d snapshot bytes, has %d", ErrShortPayload, n, len(p)-8)
	}
	return FullSync{Snapshot: append([]byte(nil), p[8:]...)}, nil
}

func decodeHello(p []byte) (Hello, error) {
	if len(p) < 4 {
		return Hello{}, fmt.Errorf("%w: hello header", ErrShortPayload)
	}
	nameLen := int(binary.BigEndian.Uint16(p[2:4]))
	if len(p) < 4+nameLen {
		return Hello{}, fmt.Errorf("%w: hello wants %d name bytes, has %d", ErrShortPayload, nameLen, len(p)-4)
	}
	return Hello{
		Version:     binary.BigEndian.Uint16(p[0:2]),
		Name:        string(p[4 : 4+nameLen]),
		Credentials: append([]byte(nil), p[4+nameLen:]...),
	}, nil
}

// WriteMessage 把一条消息编码成帧写出去。一次 Write 发出完整帧，
// 同一个连接的写帧顺序就是对端的接收顺序。
func WriteMessage(w io.Writer, m Message) error {
	p := m.payload()
	frame := make([]byte, 0, 4+1+len(p))
	frame = binary.BigEndian.AppendUint32(frame, uint32(1+len(p)))
	frame = append(frame, m.OpCode())
	frame = append(frame, p...)
	_, err := w.Write(frame)
	return err
}

// ReadMessage 读一帧并解码。解码错误表示对端损坏或恶意，调用方应断开连接。
func ReadMessage(r io.Reader) (Message, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(head[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	op, p := body[0], body[1:]
	switch op {
	case OpInsert:
		return decodeInsert(p)
	case OpDelete:
		return decodeDelete(p)
	case OpJoin:
		return decodeJoin(p)
	case OpLeave:
		return decodeLeave(p)
	case OpFullSync:
		return decodeFullSync(p)
	case OpHello:
		return decodeHello(p)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownOp, op)
	}
}
