package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

type typeRegistry struct {
	uint48Ty  abi.Type
	uint64Ty  abi.Type
	uint208Ty abi.Type
	boolTy    abi.Type
}

func newTypeRegistry() (*typeRegistry, error) {
	uint48Ty, err := abi.NewType("uint48", "", nil)
	if err != nil {
		return nil, err
	}
	uint64Ty, err := abi.NewType("uint64", "", nil)
	if err != nil {
		return nil, err
	}
	uint208Ty, err := abi.NewType("uint208", "", nil)
	if err != nil {
		return nil, err
	}
	boolTy, err := abi.NewType("bool", "", nil)
	if err != nil {
		return nil, err
	}
	return &typeRegistry{
		uint48Ty:  uint48Ty,
		uint64Ty:  uint64Ty,
		uint208Ty: uint208Ty,
		boolTy:    boolTy,
	}, nil
}

// Serializer packs and unpacks persisted ledger records. The encodings
// keep the field widths of the packed storage cells they replace: a 48-bit
// remainder next to a 208-bit balance, and the total weight apart from
// balance data.
type Serializer struct {
	typeRegistry            *typeRegistry
	balanceSumArguments     abi.Arguments
	checkpointHeadArguments abi.Arguments
}

func NewSerializer() (*Serializer, error) {
	typeRegistry, err := newTypeRegistry()
	if err != nil {
		return nil, err
	}
	return &Serializer{
		typeRegistry:            typeRegistry,
		balanceSumArguments:     createBalanceSumArguments(typeRegistry),
		checkpointHeadArguments: createCheckpointHeadArguments(typeRegistry),
	}, nil
}

func createBalanceSumArguments(r *typeRegistry) abi.Arguments {
	return abi.Arguments([]abi.Argument{
		{Name: "remainder", Type: r.uint48Ty, Indexed: false},
		{Name: "balance", Type: r.uint208Ty, Indexed: false},
	})
}

func createCheckpointHeadArguments(r *typeRegistry) abi.Arguments {
	return abi.Arguments([]abi.Argument{
		{Name: "totalBps", Type: r.uint64Ty, Indexed: false},
		{Name: "hasBalances", Type: r.boolTy, Indexed: false},
	})
}

func (sum *BalanceSum) Serialize(s *Serializer) ([]byte, error) {
	if sum.Remainder.Sign() < 0 || sum.Remainder.Cmp(MaxBalanceSumRemainder) > 0 {
		return nil, fmt.Errorf("Serialize BalanceSum: remainder %v out of range", sum.Remainder)
	}
	if sum.Balance.Sign() < 0 || sum.Balance.Cmp(MaxBalanceSumBalance) > 0 {
		return nil, fmt.Errorf("Serialize BalanceSum: balance %v out of range", sum.Balance)
	}
	data, err := s.balanceSumArguments.Pack(
		sum.Remainder,
		sum.Balance,
	)
	if err != nil {
		return nil, fmt.Errorf("Serialize BalanceSum %v: %w", sum, err)
	}
	return data, nil
}

func (s *Serializer) DeserializeBalanceSum(data []byte) (*BalanceSum, error) {
	var sum BalanceSum
	err := s.balanceSumArguments.Unpack(&sum, data)
	if err != nil {
		return nil, fmt.Errorf("Deserialize BalanceSum, data %v: %w", data, err)
	}
	return &sum, nil
}

func (head *CheckpointHead) Serialize(s *Serializer) ([]byte, error) {
	if head.TotalBps > MaxBps {
		return nil, fmt.Errorf("Serialize CheckpointHead: totalBps %v exceeds %v", head.TotalBps, MaxBps)
	}
	data, err := s.checkpointHeadArguments.Pack(
		head.TotalBps,
		head.HasBalances,
	)
	if err != nil {
		return nil, fmt.Errorf("Serialize CheckpointHead %v: %w", head, err)
	}
	return data, nil
}

func (s *Serializer) DeserializeCheckpointHead(data []byte) (*CheckpointHead, error) {
	var head CheckpointHead
	err := s.checkpointHeadArguments.Unpack(&head, data)
	if err != nil {
		return nil, fmt.Errorf("Deserialize CheckpointHead, data %v: %w", data, err)
	}
	return &head, nil
}
