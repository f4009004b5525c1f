package aob

import (
	"bytes"
	"sync"
	"testing"
)

func TestAppendRead(t *testing.T) {
	b := NewBuffer(1)
	s := b.Append([]byte("hello"))
	if s.Offset != 0 || s.Length != 5 {
		t.Fatalf("Append() = %+v, want offset 0 length 5", s)
	}
	got, err := b.Read(s)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("Read() = %q, want %q", got, "hello")
	}
}

// 老 slice 必须在后续任意多次 Append 之后仍然读出同样的字节
func TestSliceStableAcrossGrowth(t *testing.T) {
	b := NewBuffer(2)
	first := b.Append([]byte("test"))

	// 足够多的追加，保证跨越多个块
	filler := bytes.Repeat([]byte("x"), 1000)
	for i := 0; i < 32; i++ {
		b.Append(filler)
	}

	got, err := b.Read(first)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, []byte("test")) {
		t.Fatalf("Read() after growth = %q, want %q", got, "test")
	}
	if b.Len() != 4+32*1000 {
		t.Fatalf("Len() = %d, want %d", b.Len(), 4+32*1000)
	}
}

func TestAppendSpansBlocks(t *testing.T) {
	b := NewBuffer(3)
	big := bytes.Repeat([]byte("ab"), blockSize) // 正好 2 个块
	s := b.Append(big)
	got, err := b.Read(s)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Fatalf("Read() mismatch on block-spanning append")
	}
	// 子区间，正好落在块边界两侧
	sub := Slice{Buf: 3, Offset: blockSize - 1, Length: 2}
	got, err = b.Read(sub)
	if err != nil {
		t.Fatalf("Read(sub) error = %v", err)
	}
	if !bytes.Equal(got, big[blockSize-1:blockSize+1]) {
		t.Fatalf("Read(sub) = %q, want %q", got, big[blockSize-1:blockSize+1])
	}
}

func TestZeroLengthAppend(t *testing.T) {
	b := NewBuffer(4)
	s := b.Append(nil)
	if s.Length != 0 {
		t.Fatalf("Append(nil).Length = %d, want 0", s.Length)
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", b.Len())
	}
}

func TestReadWrongBuffer(t *testing.T) {
	b := NewBuffer(5)
	b.Append([]byte("abc"))
	if _, err := b.Read(Slice{Buf: 99, Offset: 0, Length: 3}); err == nil {
		t.Fatal("Read() with foreign slice should error")
	}
	if _, err := b.Read(Slice{Buf: 5, Offset: 1, Length: 5}); err == nil {
		t.Fatal("Read() past end should error")
	}
}

// 单写多读：读者拿着旧长度的 slice 和追加并发执行
func TestConcurrentReaders(t *testing.T) {
	b := NewBuffer(6)
	s := b.Append([]byte("stable prefix"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := b.Read(s)
				if err != nil || !bytes.Equal(got, []byte("stable prefix")) {
					t.Errorf("concurrent Read() = %q, %v", got, err)
					return
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		b.Append(bytes.Repeat([]byte("y"), 97))
	}
	close(stop)
	wg.Wait()
}
