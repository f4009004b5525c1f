package piecetable

import (
	"errors"
	"fmt"
	"sync"

	"collabText/backend/internal/aob"
)

// original 内容固定放在 0 号缓冲区，客户端编号从 1 起
const OriginalBuf uint32 = 0

var (
	ErrOutOfRange    = errors.New("piecetable: position out of range")
	ErrUnknownClient = errors.New("piecetable: unknown client buffer")
	ErrClientExists  = errors.New("piecetable: client buffer already exists")
)

type piece struct {
	// 指向某个 append-only 缓冲区的一段区间
	buf    uint32
	offset int
	length int
}

// PieceTable 是多写者 piece table：文档内容 = 所有 piece 按序拼接。
// 每个客户端有自己独立的追加缓冲区，插入只在各自缓冲区尾部追加，
// 不同客户端的插入只在 piece 序列上竞争，不在缓冲区增长上竞争。
type PieceTable struct {
	// mu 串行化 piece 序列的结构性修改；读快照拿读锁
	mu     sync.RWMutex
	bufs   map[uint32]*aob.Buffer
	pieces []piece
	// 逻辑总长度，增量维护
	length int
}

// NewPieceTable 以 initial 为 original 缓冲区创建。
// initial 为空时 piece 列表也为空（不允许零长 piece）。
func NewPieceTable(initial []byte) *PieceTable {
	pt := &PieceTable{
		bufs: map[uint32]*aob.Buffer{
			OriginalBuf: aob.NewBufferFrom(OriginalBuf, initial),
		},
	}
	if len(initial) > 0 {
		pt.pieces = []piece{{buf: OriginalBuf, offset: 0, length: len(initial)}}
		pt.length = len(initial)
	}
	return pt
}

// AddClient 为 clientID 分配一个空的追加缓冲区。
// 会话内 clientID 不复用，重复分配是协议层的错误。
func (pt *PieceTable) AddClient(clientID uint32) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if _, ok := pt.bufs[clientID]; ok {
		return ErrClientExists
	}
	pt.bufs[clientID] = aob.NewBuffer(clientID)
	return nil
}

func (pt *PieceTable) HasClient(clientID uint32) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	_, ok := pt.bufs[clientID]
	return ok
}

// ClientIDs 返回已分配缓冲区的客户端编号（含 0 号 original）
func (pt *PieceTable) ClientIDs() []uint32 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	ids := make([]uint32, 0, len(pt.bufs))
	for id := range pt.bufs {
		ids = append(ids, id)
	}
	return ids
}

func (pt *PieceTable) Len() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.length
}

// locate 把逻辑位置换算成 (piece 下标, piece 内偏移)。
// pos == length 时返回 (len(pieces), 0)，表示追加到末尾。
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}

// Insert 把 data 追加到 clientID 的缓冲区，再在逻辑位置 pos 拼接新 piece。
// pos 落在已有 piece 内部时拆成前后两半。零长插入是 no-op。
func (pt *PieceTable) Insert(clientID uint32, pos int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pos < 0 || pos > pt.length {
		return fmt.Errorf("%w: insert at %d, len %d", ErrOutOfRange, pos, pt.length)
	}
	buf, ok := pt.bufs[clientID]
	if !ok {
		return fmt.Errorf("%w: client %d", ErrUnknownClient, clientID)
	}

	s := buf.Append(data)
	newPiece := piece{buf: clientID, offset: s.Offset, length: s.Length}
	idx, offset := pt.locate(pos)

	if offset == 0 && idx > 0 {
		// 连续打字的热路径：紧贴前一个 piece 的尾部插入，且缓冲区区间连续，
		// 直接扩展前一个 piece。可观察结果不变。
		prev := &pt.pieces[idx-1]
		if prev.buf == clientID && prev.offset+prev.length == s.Offset {
			prev.length += s.Length
			pt.length += s.Length
			return nil
		}
	}

	if idx == len(pt.pieces) {
		pt.pieces = append(pt.pieces, newPiece)
		pt.length += s.Length
		return nil
	}

	cur := pt.pieces[idx]
	left := piece{buf: cur.buf, offset: cur.offset, length: offset}
	right := piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset}

	newPieces := make([]piece, 0, len(pt.pieces)+2)
	newPieces = append(newPieces, pt.pieces[:idx]...)
	if left.length > 0 {
		newPieces = append(newPieces, left)
	}
	newPieces = append(newPieces, newPiece)
	if right.length > 0 {
		newPieces = append(newPieces, right)
	}
	newPieces = append(newPieces, pt.pieces[idx+1:]...)
	pt.pieces = newPieces
	pt.length += s.Length
	return nil
}

// Delete 删除 [pos, pos+length) 覆盖到的区间：边界 piece 裁剪，完全覆盖的丢弃。
// 底层缓冲区的字节不回收。越界是错误，表不会被部分修改。
func (pt *PieceTable) Delete(pos, length int) error {
	if length == 0 {
		return nil
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pos < 0 || length < 0 || pos+length > pt.length {
		return fmt.Errorf("%w: delete [%d,%d), len %d", ErrOutOfRange, pos, pos+length, pt.length)
	}

	remain := length
	idx, offset := pt.locate(pos)
	for remain > 0 && idx < len(pt.pieces) {
		cur := &pt.pieces[idx]
		can := cur.length - offset
		if can <= 0 {
			idx++
			offset = 0
			continue
		}
		take := remain
		if take > can {
			take = can
		}

		if offset == 0 && take == cur.length {
			// 整个 piece 删掉，idx 不动
			pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
		} else {
			leftLen := offset
			rightLen := cur.length - offset - take
			newPieces := make([]piece, 0, len(pt.pieces)+1)
			newPieces = append(newPieces, pt.pieces[:idx]...)
			if leftLen > 0 {
				newPieces = append(newPieces, piece{buf: cur.buf, offset: cur.offset, length: leftLen})
			}
			if rightLen > 0 {
				newPieces = append(newPieces, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rightLen})
			}
			rest := idx
			if leftLen > 0 {
				rest++
			}
			if rightLen > 0 {
				rest++
			}
			newPieces = append(newPieces, pt.pieces[idx+1:]...)
			pt.pieces = newPieces
			idx = rest
			offset = 0
		}
		remain -= take
	}
	pt.length -= length
	return nil
}

// Read 返回 [from, to) 的文档子串
func (pt *PieceTable) Read(from, to int) ([]byte, error) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if from < 0 || to < from || to > pt.length {
		return nil, fmt.Errorf("%w: read [%d,%d), len %d", ErrOutOfRange, from, to, pt.length)
	}
	out := make([]byte, 0, to-from)
	cur := 0
	for _, p := range pt.pieces {
		if cur >= to {
			break
		}
		pieceStart, pieceEnd := cur, cur+p.length
		cur = pieceEnd
		if pieceEnd <= from {
			continue
		}
		lo, hi := 0, p.length
		if from > pieceStart {
			lo = from - pieceStart
		}
		if to < pieceEnd {
			hi = to - pieceStart
		}
		got, err := pt.bufs[p.buf].Read(aob.Slice{Buf: p.buf, Offset: p.offset + lo, Length: hi - lo})
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
	}
	return out, nil
}

// Snapshot 返回整篇文档的字节
func (pt *PieceTable) Snapshot() []byte {
	pt.mu.RLock()
	length := pt.length
	pt.mu.RUnlock()
	out, err := pt.Read(0, length)
	if err != nil {
		// Read(0, Len()) 不会越界
		panic(err)
	}
	return out
}

// Piece 是遍历时暴露的只读视图
type Piece struct {
	Buf    uint32
	Offset int
	Length int
}

// IterPieces 按文档顺序遍历所有 piece，yield 返回 false 则提前停止。
// 序列化走这里。
func (pt *PieceTable) IterPieces(yield func(Piece) bool) {
	pt.mu.RLock()
	pieces := make([]piece, len(pt.pieces))
	copy(pieces, pt.pieces)
	pt.mu.RUnlock()
	for _, p := range pieces {
		if !yield(Piece{Buf: p.buf, Offset: p.offset, Length: p.length}) {
			return
		}
	}
}

// PieceCount 当前 piece 个数（测试与监控用）
func (pt *PieceTable) PieceCount() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.pieces)
}

// checkInvariant 校验 Σ piece.length == length，测试里用
func (pt *PieceTable) checkInvariant() error {
	sum := 0
	for _, p := range pt.pieces {
		if p.length <= 0 {
			return fmt.Errorf("piecetable: zero-length piece at buf %d", p.buf)
		}
		sum += p.length
	}
	if sum != pt.length {
		return fmt.Errorf("piecetable: piece sum %d != length %d", sum, pt.length)
	}
	return nil
}
