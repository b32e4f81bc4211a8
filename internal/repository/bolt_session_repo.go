package repository

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hitoshi/passgate/internal/model"
)

var sessionsBucket = []byte("sessions")

// BoltSessionRepo はBoltDBファイルを使用したセッションリポジトリ。
// 単一ノード構成でPostgreSQLとは別にセッションを永続化する用途を想定する。
type BoltSessionRepo struct {
	db  *bbolt.DB
	now func() time.Time
}

// OpenBoltSessionRepo はpathのBoltDBファイルを開き、BoltSessionRepoを生成する。
func OpenBoltSessionRepo(path string) (*BoltSessionRepo, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}
	return &BoltSessionRepo{db: db, now: time.Now}, nil
}

// Close はBoltDBファイルを閉じる。
func (r *BoltSessionRepo) Close() error {
	return r.db.Close()
}

// Create はセッションを作成する。
func (r *BoltSessionRepo) Create(_ context.Context, session *model.Session) error {
	payload, err := encodeSession(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	err = r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(session.ID), payload)
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *BoltSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	var session *model.Session
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		s, err := decodeSession(data)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.IsExpired(r.now()) {
		return nil, nil
	}
	return session, nil
}

// AttachUser は有効なセッションにユーザーIDを紐付ける。
func (r *BoltSessionRepo) AttachUser(_ context.Context, id, userID string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		data := b.Get([]byte(id))
		if data == nil {
			return model.ErrUnknownSession
		}
		session, err := decodeSession(data)
		if err != nil {
			return fmt.Errorf("failed to decode session: %w", err)
		}
		if session.IsExpired(r.now()) {
			return model.ErrUnknownSession
		}
		session.UserID = userID
		payload, err := encodeSession(session)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		return b.Put([]byte(id), payload)
	})
}

// DeleteByID は指定IDのセッションを削除する。
func (r *BoltSessionRepo) DeleteByID(_ context.Context, id string) error {
	err := r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *BoltSessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			session, err := decodeSession(v)
			if err != nil || session.IsExpired(before) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = int64(len(expired))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ SessionRepository = (*BoltSessionRepo)(nil)
