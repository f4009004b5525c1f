package btep

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func roundtrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteMessage(&buf, m); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	return got
}

func TestInsertRoundtrip(t *testing.T) {
	got := roundtrip(t, Insert{ClientID: 3, Position: 12, Data: []byte("hello")})
	ins, ok := got.(Insert)
	if !ok {
		t.Fatalf("decoded %T, want Insert", got)
	}
	if ins.ClientID != 3 || ins.Position != 12 || string(ins.Data) != "hello" {
		t.Fatalf("decoded %+v", ins)
	}
}

func TestDeleteRoundtrip(t *testing.T) {
	got := roundtrip(t, Delete{ClientID: 9, Position: 4, Length: 2})
	del, ok := got.(Delete)
	if !ok || del.ClientID != 9 || del.Position != 4 || del.Length != 2 {
		t.Fatalf("decoded %+v (%T)", got, got)
	}
}

func TestJoinRoundtrip(t *testing.T) {
	// 带快照：新加入者收到的形态
	got := roundtrip(t, Join{AssignedID: 1, Snapshot: []byte("seed")})
	j := got.(Join)
	if j.AssignedID != 1 || string(j.Snapshot) != "seed" {
		t.Fatalf("decoded %+v", j)
	}
	// 空快照：广播给旁观者的形态，语义是"分配空缓冲区"
	got = roundtrip(t, Join{AssignedID: 2})
	j = got.(Join)
	if j.AssignedID != 2 || len(j.Snapshot) != 0 {
		t.Fatalf("decoded %+v", j)
	}
}

func TestLeaveAndFullSyncRoundtrip(t *testing.T) {
	if l := roundtrip(t, Leave{ClientID: 5}).(Leave); l.ClientID != 5 {
		t.Fatalf("decoded %+v", l)
	}
	fs := roundtrip(t, FullSync{Snapshot: []byte("doc")}).(FullSync)
	if string(fs.Snapshot) != "doc" {
		t.Fatalf("decoded %+v", fs)
	}
}

func TestHelloRoundtrip(t *testing.T) {
	h := roundtrip(t, Hello{Version: ProtoVersion, Name: "andy", Credentials: []byte("secret")}).(Hello)
	if h.Version != ProtoVersion || h.Name != "andy" || string(h.Credentials) != "secret" {
		t.Fatalf("decoded %+v", h)
	}
	// 无凭据的握手
	h = roundtrip(t, Hello{Version: ProtoVersion, Name: "bob"}).(Hello)
	if h.Name != "bob" || len(h.Credentials) != 0 {
		t.Fatalf("decoded %+v", h)
	}
}

func TestReadMalformed(t *testing.T) {
	// 未知 op code
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(1))
	buf.WriteByte(0x7f)
	if _, err := ReadMessage(&buf); !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("unknown op error = %v", err)
	}

	// 空帧
	buf.Reset()
	binary.Write(&buf, binary.BigEndian, uint32(0))
	if _, err := ReadMessage(&buf); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("empty frame error = %v", err)
	}

	// 超大帧声明
	buf.Reset()
	binary.Write(&buf, binary.BigEndian, uint32(MaxFrameSize+1))
	if _, err := ReadMessage(&buf); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("oversize frame error = %v", err)
	}

	// Insert 声明的数据长度和实际不符
	buf.Reset()
	payload := make([]byte, 16)
	binary.BigEndian.PutUint32(payload[12:16], 100) // 声明 100 字节，实际 0
	binary.Write(&buf, binary.BigEndian, uint32(1+len(payload)))
	buf.WriteByte(OpInsert)
	buf.Write(payload)
	if _, err := ReadMessage(&buf); !errors.Is(err, ErrShortPayload) {
		t.Fatalf("short insert error = %v", err)
	}

	// 帧被截断
	buf.Reset()
	binary.Write(&buf, binary.BigEndian, uint32(10))
	buf.WriteByte(OpLeave)
	if _, err := ReadMessage(&buf); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("truncated frame error = %v", err)
	}
}
