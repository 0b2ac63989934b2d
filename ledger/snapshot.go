package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearledger/go-allocations/db"
	"github.com/clearledger/go-allocations/types"
)

// LedgerSnapshot is the full persisted state of one balance share, used
// to move a ledger between deployments. Heads and per-asset balance
// cells are indexed by checkpoint; missing cells read back as zero.
type LedgerSnapshot struct {
	ActiveIndex uint64
	Heads       []*types.CheckpointHead
	Balances    map[common.Address][]*types.BalanceSum
}

// ExportSnapshot reads the complete state of one balance share. The
// key's lock is held for the duration, so the snapshot is consistent
// with respect to deposits on the same key.
func (s *Store) ExportSnapshot(key types.LedgerKey) (*LedgerSnapshot, error) {
	lock := s.locks.get(key)
	lock.RLock()
	defer lock.RUnlock()

	index, err := s.ActiveIndex(key)
	if err != nil {
		return nil, err
	}

	snapshot := &LedgerSnapshot{
		ActiveIndex: index,
		Heads:       make([]*types.CheckpointHead, index+1),
		Balances:    make(map[common.Address][]*types.BalanceSum),
	}
	for i := uint64(0); i <= index; i++ {
		head, err := s.Head(key, i)
		if err != nil {
			return nil, err
		}
		snapshot.Heads[i] = head
	}

	prefix := db.PrependNamespace(db.NamespaceBalanceSum, key.Bytes())
	iter := s.db.Iterator(prefix, keyRangeEnd(prefix, common.AddressLength+8))
	for iter.Valid() {
		rawKey, err := iter.Key()
		if err != nil {
			return nil, err
		}
		asset, cellIndex, err := splitBalanceSumKey(rawKey, len(prefix))
		if err != nil {
			return nil, err
		}
		value, err := iter.Value()
		if err != nil {
			return nil, err
		}
		sum, err := s.serializer.DeserializeBalanceSum(value)
		if err != nil {
			return nil, err
		}

		cells, ok := snapshot.Balances[asset]
		if !ok {
			cells = make([]*types.BalanceSum, index+1)
			for i := range cells {
				cells[i] = types.NewBalanceSum()
			}
			snapshot.Balances[asset] = cells
		}
		if cellIndex <= index {
			cells[cellIndex] = sum
		}
		if err := iter.Next(); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}

// RestoreSnapshot replaces the balance share's persisted state with the
// snapshot, sweeping any cells the target ledger had beyond what the
// snapshot covers. The writes go through one bulk, flushed at the end.
func (s *Store) RestoreSnapshot(key types.LedgerKey, snapshot *LedgerSnapshot) error {
	if uint64(len(snapshot.Heads)) <= snapshot.ActiveIndex {
		return fmt.Errorf("restore %s with %d heads, active %d: %w",
			key.Hex(), len(snapshot.Heads), snapshot.ActiveIndex, ErrInvalidSnapshot)
	}

	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	bulk := s.db.NewBulk()

	for _, namespace := range [][]byte{db.NamespaceCheckpointHead, db.NamespaceBalanceSum} {
		prefix := db.PrependNamespace(namespace, key.Bytes())
		iter := s.db.Iterator(prefix, keyRangeEnd(prefix, common.AddressLength+8))
		for iter.Valid() {
			rawKey, err := iter.Key()
			if err != nil {
				bulk.DiscardLast()
				return err
			}
			if err := bulk.Delete(nil, rawKey); err != nil {
				bulk.DiscardLast()
				return err
			}
			if err := iter.Next(); err != nil {
				bulk.DiscardLast()
				return err
			}
		}
	}

	for i, head := range snapshot.Heads {
		data, err := head.Serialize(s.serializer)
		if err != nil {
			bulk.DiscardLast()
			return err
		}
		if err := bulk.Set(db.NamespaceCheckpointHead, checkpointKey(key, uint64(i)), data); err != nil {
			bulk.DiscardLast()
			return err
		}
	}
	for asset, cells := range snapshot.Balances {
		for i, sum := range cells {
			data, err := sum.Serialize(s.serializer)
			if err != nil {
				bulk.DiscardLast()
				return err
			}
			if err := bulk.Set(db.NamespaceBalanceSum, balanceSumKey(key, asset, uint64(i)), data); err != nil {
				bulk.DiscardLast()
				return err
			}
		}
	}

	var indexBytes [8]byte
	binary.BigEndian.PutUint64(indexBytes[:], snapshot.ActiveIndex)
	if err := bulk.Set(db.NamespaceActiveCheckpoint, key.Bytes(), indexBytes[:]); err != nil {
		bulk.DiscardLast()
		return err
	}
	return bulk.Flush()
}

// keyRangeEnd returns an exclusive upper bound covering every key that
// extends prefix by at most suffixLen bytes.
func keyRangeEnd(prefix []byte, suffixLen int) []byte {
	end := append([]byte{}, prefix...)
	for i := 0; i <= suffixLen; i++ {
		end = append(end, 0xff)
	}
	return end
}

func splitBalanceSumKey(rawKey []byte, prefixLen int) (common.Address, uint64, error) {
	suffix := rawKey[prefixLen:]
	if len(suffix) != common.AddressLength+8 {
		return common.Address{}, 0, fmt.Errorf("malformed balance sum key %x", rawKey)
	}
	asset := common.BytesToAddress(suffix[:common.AddressLength])
	return asset, binary.BigEndian.Uint64(suffix[common.AddressLength:]), nil
}
