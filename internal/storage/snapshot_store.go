package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mautops/batch-approval/internal/config"
	"github.com/mautops/batch-approval/internal/model"
	"gorm.io/datatypes"
)

// ErrSnapshotNotFound 快照不存在
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot 提交数据通过审批时的内容快照
type Snapshot struct {
	SubmissionID     uint           `json:"submission_id"`
	FormID           uint           `json:"form_id"`
	AdministrationID uint           `json:"administration_id"`
	BatchID          uint           `json:"batch_id"`
	Name             string         `json:"name"`
	Data             datatypes.JSON `json:"data"`
	CreatedBy        string         `json:"created_by"`
	TakenAt          time.Time      `json:"taken_at"`
}

// SnapshotStore 基于 badger 的快照存储,每个提交数据最多一份快照
type SnapshotStore struct {
	db *badger.DB
}

// OpenSnapshotStore 根据配置打开快照存储
func OpenSnapshotStore(cfg config.SnapshotConfig) (*SnapshotStore, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// NewSnapshot 根据提交数据构建快照
func NewSnapshot(submission *model.SubmissionModel, batchID uint) *Snapshot {
	return &Snapshot{
		SubmissionID:     submission.ID,
		FormID:           submission.FormID,
		AdministrationID: submission.AdministrationID,
		BatchID:          batchID,
		Name:             submission.Name,
		Data:             submission.Data,
		CreatedBy:        submission.CreatedBy,
		TakenAt:          time.Now().UTC(),
	}
}

func snapshotKey(submissionID uint) []byte {
	return []byte(fmt.Sprintf("snapshot/submission/%d", submissionID))
}

// Put 写入快照,已存在时不覆盖并返回 false
func (s *SnapshotStore) Put(snapshot *Snapshot) (bool, error) {
	value, err := json.Marshal(snapshot)
	if err != nil {
		return false, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	created := false
	err = s.db.Update(func(txn *badger.Txn) error {
		key := snapshotKey(snapshot.SubmissionID)
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		created = true
		return txn.Set(key, value)
	})
	if err != nil {
		return false, fmt.Errorf("failed to store snapshot of submission %d: %w", snapshot.SubmissionID, err)
	}
	return created, nil
}

// Get 读取快照
func (s *SnapshotStore) Get(submissionID uint) (*Snapshot, error) {
	var snapshot Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(submissionID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrSnapshotNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snapshot)
		})
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Exists 判断快照是否存在
func (s *SnapshotStore) Exists(submissionID uint) (bool, error) {
	_, err := s.Get(submissionID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Healthy 检查存储是否可用
func (s *SnapshotStore) Healthy() bool {
	return s != nil && !s.db.IsClosed()
}

// Close 关闭存储
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
