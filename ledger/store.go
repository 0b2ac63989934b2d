package ledger

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearledger/go-allocations/db"
	"github.com/clearledger/go-allocations/types"
)

// Store persists balance share ledgers: the active checkpoint index per
// key, one head record per checkpoint, and one balance-sum cell per
// (key, asset, checkpoint). Checkpoint sequences are append-only; a ledger
// springs into existence all-zero the first time its key is referenced.
type Store struct {
	db         db.DB
	serializer *types.Serializer
	locks      keyLocks
}

func NewStore(database db.DB) (*Store, error) {
	serializer, err := types.NewSerializer()
	if err != nil {
		return nil, err
	}
	return &Store{
		db:         database,
		serializer: serializer,
	}, nil
}

func checkpointKey(key types.LedgerKey, index uint64) []byte {
	buf := make([]byte, 0, len(key)+8)
	buf = append(buf, key.Bytes()...)
	var indexBytes [8]byte
	binary.BigEndian.PutUint64(indexBytes[:], index)
	return append(buf, indexBytes[:]...)
}

func balanceSumKeyPrefix(key types.LedgerKey, asset common.Address) []byte {
	buf := make([]byte, 0, len(key)+len(asset)+8)
	buf = append(buf, key.Bytes()...)
	return append(buf, asset.Bytes()...)
}

func balanceSumKey(key types.LedgerKey, asset common.Address, index uint64) []byte {
	buf := balanceSumKeyPrefix(key, asset)
	var indexBytes [8]byte
	binary.BigEndian.PutUint64(indexBytes[:], index)
	return append(buf, indexBytes[:]...)
}

// ActiveIndex returns the index of the live checkpoint.
func (s *Store) ActiveIndex(key types.LedgerKey) (uint64, error) {
	data, exists, err := s.db.Get(db.NamespaceActiveCheckpoint, key.Bytes())
	if err != nil {
		return 0, fmt.Errorf("get active checkpoint for %s: %w", key.Hex(), err)
	}
	if !exists {
		return 0, nil
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *Store) putActiveIndex(tx db.Transaction, key types.LedgerKey, index uint64) error {
	var indexBytes [8]byte
	binary.BigEndian.PutUint64(indexBytes[:], index)
	return tx.Set(db.NamespaceActiveCheckpoint, key.Bytes(), indexBytes[:])
}

// Head returns the head record of one checkpoint. An untouched checkpoint
// reads back as the zero head.
func (s *Store) Head(key types.LedgerKey, index uint64) (*types.CheckpointHead, error) {
	data, exists, err := s.db.Get(db.NamespaceCheckpointHead, checkpointKey(key, index))
	if err != nil {
		return nil, fmt.Errorf("get checkpoint head for %s[%d]: %w", key.Hex(), index, err)
	}
	if !exists {
		return &types.CheckpointHead{}, nil
	}
	return s.serializer.DeserializeCheckpointHead(data)
}

func (s *Store) putHead(tx db.Transaction, key types.LedgerKey, index uint64, head *types.CheckpointHead) error {
	data, err := head.Serialize(s.serializer)
	if err != nil {
		return err
	}
	return tx.Set(db.NamespaceCheckpointHead, checkpointKey(key, index), data)
}

// BalanceSum returns the accumulator cell of one asset under one
// checkpoint, all-zero if never written.
func (s *Store) BalanceSum(key types.LedgerKey, index uint64, asset common.Address) (*types.BalanceSum, error) {
	data, exists, err := s.db.Get(db.NamespaceBalanceSum, balanceSumKey(key, asset, index))
	if err != nil {
		return nil, fmt.Errorf("get balance sum for %s[%d] asset %s: %w", key.Hex(), index, asset.Hex(), err)
	}
	if !exists {
		return types.NewBalanceSum(), nil
	}
	return s.serializer.DeserializeBalanceSum(data)
}

func (s *Store) putBalanceSum(tx db.Transaction, key types.LedgerKey, index uint64, asset common.Address, sum *types.BalanceSum) error {
	data, err := sum.Serialize(s.serializer)
	if err != nil {
		return err
	}
	return tx.Set(db.NamespaceBalanceSum, balanceSumKey(key, asset, index), data)
}

// SetTotalBps writes the total weight on the active checkpoint. Only the
// account-share manager is expected to call this; the allocation path just
// reads the value back.
func (s *Store) SetTotalBps(key types.LedgerKey, totalBps uint64) error {
	if totalBps > types.MaxBps {
		return fmt.Errorf("set totalBps %d on %s: %w", totalBps, key.Hex(), ErrInvalidTotalBps)
	}

	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	index, err := s.ActiveIndex(key)
	if err != nil {
		return err
	}
	head, err := s.Head(key, index)
	if err != nil {
		return err
	}
	head.TotalBps = totalBps

	tx := s.db.NewTx()
	if err := s.putHead(tx, key, index, head); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// Owner returns the registered owner of a balance share, if any.
func (s *Store) Owner(key types.LedgerKey) (common.Address, bool, error) {
	data, exists, err := s.db.Get(db.NamespaceShareOwner, key.Bytes())
	if err != nil {
		return common.Address{}, false, fmt.Errorf("get owner for %s: %w", key.Hex(), err)
	}
	if !exists {
		return common.Address{}, false, nil
	}
	return common.BytesToAddress(data), true, nil
}

// RegisterOwner records the party allowed to run remainder-tracked
// deposits against the key. Registration is first-come-only, so a later
// caller cannot reassign an owned share.
func (s *Store) RegisterOwner(key types.LedgerKey, owner common.Address) error {
	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	exists, err := s.db.Exist(db.NamespaceShareOwner, key.Bytes())
	if err != nil {
		return fmt.Errorf("check owner for %s: %w", key.Hex(), err)
	}
	if exists {
		return fmt.Errorf("register owner %s on %s: %w", owner.Hex(), key.Hex(), ErrOwnerAlreadyRegistered)
	}
	return s.db.Set(db.NamespaceShareOwner, key.Bytes(), owner.Bytes())
}

// TotalBalance sums one asset's balances across every checkpoint of a
// ledger, sealed and active alike.
func (s *Store) TotalBalance(key types.LedgerKey, asset common.Address) (*big.Int, error) {
	prefix := balanceSumKeyPrefix(key, asset)
	start := db.PrependNamespace(db.NamespaceBalanceSum, prefix)
	end := db.PrependNamespace(db.NamespaceBalanceSum, append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))

	total := new(big.Int)
	iter := s.db.Iterator(start, end)
	for iter.Valid() {
		value, err := iter.Value()
		if err != nil {
			return nil, err
		}
		sum, err := s.serializer.DeserializeBalanceSum(value)
		if err != nil {
			return nil, err
		}
		total.Add(total, sum.Balance)
		if err := iter.Next(); err != nil {
			return nil, err
		}
	}
	return total, nil
}
