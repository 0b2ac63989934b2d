package ledger

import (
	"sync"

	"github.com/clearledger/go-allocations/types"
)

// keyLocks serializes mutations per ledger key. Unrelated keys proceed
// independently; quotes take the read side.
type keyLocks struct {
	locks sync.Map
}

func (l *keyLocks) get(key types.LedgerKey) *sync.RWMutex {
	actual, _ := l.locks.LoadOrStore(key, &sync.RWMutex{})
	return actual.(*sync.RWMutex)
}
