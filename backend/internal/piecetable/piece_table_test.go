package piecetable

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewFromInitial(t *testing.T) {
	pt := NewPieceTable([]byte("Hello world"))
	if got := string(pt.Snapshot()); got != "Hello world" {
		t.Fatalf("Snapshot() = %q, want %q", got, "Hello world")
	}
	if pt.Len() != 11 {
		t.Fatalf("Len() = %d, want 11", pt.Len())
	}
	if pt.PieceCount() != 1 {
		t.Fatalf("PieceCount() = %d, want 1", pt.PieceCount())
	}
}

func TestNewEmpty(t *testing.T) {
	pt := NewPieceTable(nil)
	if pt.Len() != 0 || pt.PieceCount() != 0 {
		t.Fatalf("empty table: Len()=%d PieceCount()=%d", pt.Len(), pt.PieceCount())
	}
}

func TestInsertMiddle(t *testing.T) {
	pt := NewPieceTable([]byte("Hello world"))
	if err := pt.AddClient(1); err != nil {
		t.Fatal(err)
	}
	if err := pt.Insert(1, 5, []byte(" collaborative")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	want := "Hello collaborative world"
	if got := string(pt.Snapshot()); got != want {
		t.Fatalf("Snapshot() = %q, want %q", got, want)
	}
	// 原 piece 被拆成前后两半，中间夹新 piece
	if pt.PieceCount() != 3 {
		t.Fatalf("PieceCount() = %d, want 3", pt.PieceCount())
	}
	if err := pt.checkInvariant(); err != nil {
		t.Fatal(err)
	}
}

func TestInsertAtHeadAndTail(t *testing.T) {
	pt := NewPieceTable([]byte("BC"))
	pt.AddClient(1)
	if err := pt.Insert(1, 0, []byte("A")); err != nil {
		t.Fatal(err)
	}
	if err := pt.Insert(1, pt.Len(), []byte("D")); err != nil {
		t.Fatal(err)
	}
	if got := string(pt.Snapshot()); got != "ABCD" {
		t.Fatalf("Snapshot() = %q, want %q", got, "ABCD")
	}
}

// 场景：单客户端连续两次插入，"hello" + " world"
func TestSingleClientSequentialInserts(t *testing.T) {
	pt := NewPieceTable(nil)
	pt.AddClient(1)
	if err := pt.Insert(1, 0, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := pt.Insert(1, 5, []byte(" world")); err != nil {
		t.Fatal(err)
	}
	if got := string(pt.Snapshot()); got != "hello world" {
		t.Fatalf("Snapshot() = %q, want %q", got, "hello world")
	}
	// 同一客户端缓冲区连续，应合并成不超过 2 个 piece
	if pt.PieceCount() > 2 {
		t.Fatalf("PieceCount() = %d, want <= 2", pt.PieceCount())
	}
}

func TestZeroLengthInsertIsNoop(t *testing.T) {
	pt := NewPieceTable([]byte("abc"))
	pt.AddClient(1)
	if err := pt.Insert(1, 1, nil); err != nil {
		t.Fatal(err)
	}
	if pt.PieceCount() != 1 || pt.Len() != 3 {
		t.Fatalf("zero-length insert changed the table")
	}
}

func TestInsertUnknownClient(t *testing.T) {
	pt := NewPieceTable([]byte("abc"))
	err := pt.Insert(7, 0, []byte("x"))
	if !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("Insert() error = %v, want ErrUnknownClient", err)
	}
}

func TestAddClientTwice(t *testing.T) {
	pt := NewPieceTable(nil)
	if err := pt.AddClient(1); err != nil {
		t.Fatal(err)
	}
	if err := pt.AddClient(1); !errors.Is(err, ErrClientExists) {
		t.Fatalf("AddClient() twice error = %v, want ErrClientExists", err)
	}
}

// 场景：两个 piece [P1="Hello, "][P2="world"]，delete(5,2) 删掉 P1 末尾、紧贴 P2 的 ", " → "Helloworld"
func TestDeleteSpansPieces(t *testing.T) {
	pt := NewPieceTable(nil)
	pt.AddClient(1)
	pt.AddClient(2)
	if err := pt.Insert(1, 0, []byte("Hello, ")); err != nil {
		t.Fatal(err)
	}
	if err := pt.Insert(2, 7, []byte("world")); err != nil {
		t.Fatal(err)
	}
	if err := pt.Delete(5, 2); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := string(pt.Snapshot()); got != "Helloworld" {
		t.Fatalf("Snapshot() = %q, want %q", got, "Helloworld")
	}
	// P1 尾部被裁剪，P2 不动，个数不变
	if pt.PieceCount() != 2 {
		t.Fatalf("PieceCount() = %d, want 2", pt.PieceCount())
	}
	if err := pt.checkInvariant(); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteWholeDocument(t *testing.T) {
	pt := NewPieceTable([]byte("abcdef"))
	if err := pt.Delete(0, 6); err != nil {
		t.Fatal(err)
	}
	if pt.Len() != 0 || pt.PieceCount() != 0 {
		t.Fatalf("after full delete: Len()=%d PieceCount()=%d", pt.Len(), pt.PieceCount())
	}
}

func TestDeleteMiddleOfPiece(t *testing.T) {
	pt := NewPieceTable([]byte("abcdef"))
	if err := pt.Delete(2, 2); err != nil {
		t.Fatal(err)
	}
	if got := string(pt.Snapshot()); got != "abef" {
		t.Fatalf("Snapshot() = %q, want %q", got, "abef")
	}
	if pt.PieceCount() != 2 {
		t.Fatalf("PieceCount() = %d, want 2", pt.PieceCount())
	}
}

func TestDeleteOutOfRange(t *testing.T) {
	pt := NewPieceTable([]byte("12345678901234567890")) // 20 字节
	err := pt.Delete(100, 10)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Delete() error = %v, want ErrOutOfRange", err)
	}
	err = pt.Delete(15, 10)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Delete() past end error = %v, want ErrOutOfRange", err)
	}
	// 失败的删除不能动文档
	if got := string(pt.Snapshot()); got != "12345678901234567890" {
		t.Fatalf("document changed by rejected delete: %q", got)
	}
}

// 插入末尾再删同样长度，文档复原
func TestInsertThenDeleteRestores(t *testing.T) {
	pt := NewPieceTable([]byte("base"))
	pt.AddClient(1)
	if err := pt.Insert(1, 4, []byte("tail")); err != nil {
		t.Fatal(err)
	}
	if err := pt.Delete(4, 4); err != nil {
		t.Fatal(err)
	}
	if got := string(pt.Snapshot()); got != "base" {
		t.Fatalf("Snapshot() = %q, want %q", got, "base")
	}
}

func TestRead(t *testing.T) {
	pt := NewPieceTable([]byte("Hello"))
	pt.AddClient(1)
	pt.Insert(1, 5, []byte(" world"))
	got, err := pt.Read(3, 8)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("lo wo")) {
		t.Fatalf("Read(3,8) = %q, want %q", got, "lo wo")
	}
	if _, err := pt.Read(3, 100); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Read() out of range error = %v", err)
	}
}

func TestIterPieces(t *testing.T) {
	pt := NewPieceTable([]byte("ab"))
	pt.AddClient(1)
	pt.Insert(1, 1, []byte("X"))
	var total int
	pt.IterPieces(func(p Piece) bool {
		total += p.Length
		return true
	})
	if total != pt.Len() {
		t.Fatalf("piece lengths sum %d != Len() %d", total, pt.Len())
	}
}
