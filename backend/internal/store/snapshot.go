package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// SaveDocumentSnapshot 写一条快照历史。同 (document, seq) 已存在则视为已留档。
func (s *SnapshotStore) SaveDocumentSnapshot(ctx context.Context, document string, seq uint64, content []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_snapshots (document, seq, content, created_at)
		VALUES (?, ?, ?, NOW())`,
		document,
		seq,
		content,
	)
	if err != nil {
		// 1062 = duplicate key
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return err
	}
	return nil
}
