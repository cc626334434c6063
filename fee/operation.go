// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fee

import (
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	safemath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/drivevm/crypto"
	"github.com/ava-labs/drivevm/version"
)

// hashBlockSize is the block length hashing is priced by.
const hashBlockSize = 64

// OperationKind tags a metered operation.
type OperationKind uint8

const (
	ReadOp OperationKind = iota
	WriteOp
	ReplaceOp
	RemoveOp
	HashOp
	SignatureVerificationOp
	PreCalculatedOp
	FunctionCallOp
)

func (k OperationKind) String() string {
	switch k {
	case ReadOp:
		return "read"
	case WriteOp:
		return "write"
	case ReplaceOp:
		return "replace"
	case RemoveOp:
		return "remove"
	case HashOp:
		return "hash"
	case SignatureVerificationOp:
		return "signature_verification"
	case PreCalculatedOp:
		return "pre_calculated"
	case FunctionCallOp:
		return "function_call"
	default:
		return fmt.Sprintf("OperationKind(%d)", uint8(k))
	}
}

// Operation is one metered unit of work. It carries sizes, not prices; the
// FeeVersion of the active protocol version prices it.
type Operation struct {
	Kind OperationKind

	KeySize   uint64
	ValueSize uint64
	OldSize   uint64
	Blocks    uint64
	KeyType   crypto.KeyType

	Storage    uint64
	Processing uint64

	// removal bookkeeping, used to refund prepaid storage
	Owner       ids.ID
	InsertEpoch uint16
	PaidFee     uint64
}

// Read meters loading a stored value.
func Read(valueSize uint64) Operation {
	return Operation{Kind: ReadOp, ValueSize: valueSize}
}

// Write meters persisting a key and value.
func Write(keySize, valueSize uint64) Operation {
	return Operation{Kind: WriteOp, KeySize: keySize, ValueSize: valueSize}
}

// Replace meters overwriting a value of [oldSize] bytes. Only growth is
// charged as storage.
func Replace(keySize, oldSize, valueSize uint64) Operation {
	return Operation{Kind: ReplaceOp, KeySize: keySize, OldSize: oldSize, ValueSize: valueSize}
}

// Remove meters deleting a value whose storage was prepaid by [owner] at
// [insertEpoch] for [paidFee] credits.
func Remove(keySize, valueSize uint64, owner ids.ID, insertEpoch uint16, paidFee uint64) Operation {
	return Operation{
		Kind:        RemoveOp,
		KeySize:     keySize,
		ValueSize:   valueSize,
		Owner:       owner,
		InsertEpoch: insertEpoch,
		PaidFee:     paidFee,
	}
}

// Hash meters hashing [size] bytes.
func Hash(size uint64) Operation {
	return Operation{Kind: HashOp, Blocks: (size + hashBlockSize - 1) / hashBlockSize}
}

// SignatureVerification meters one signature check.
func SignatureVerification(kt crypto.KeyType) Operation {
	return Operation{Kind: SignatureVerificationOp, KeyType: kt}
}

// PreCalculated carries costs computed elsewhere.
func PreCalculated(storage, processing uint64) Operation {
	return Operation{Kind: PreCalculatedOp, Storage: storage, Processing: processing}
}

// FunctionCall meters a flat processing cost.
func FunctionCall(cost uint64) Operation {
	return Operation{Kind: FunctionCallOp, Processing: cost}
}

// StorageCost is the storage part of the cost of writing [keySize]+[valueSize]
// bytes. Stored records keep it so a later removal can be refunded.
func StorageCost(fv *version.FeeVersion, keySize, valueSize uint64) (uint64, error) {
	size, err := safemath.Add64(keySize, valueSize)
	if err != nil {
		return 0, err
	}
	cost, err := safemath.Mul64(size, fv.Storage.DiskUsageCreditPerByte)
	if err != nil {
		return 0, err
	}
	return safemath.Mul64(cost, StorageFeeMultiplier)
}

// cost prices [op] against [fv].
func (op Operation) cost(fv *version.FeeVersion) (storage uint64, processing uint64, err error) {
	switch op.Kind {
	case ReadOp:
		load, err := safemath.Mul64(op.ValueSize, fv.Storage.LoadCreditPerByte)
		if err != nil {
			return 0, 0, err
		}
		processing, err = safemath.Add64(load, fv.Storage.SeekCost)
		return 0, processing, err
	case WriteOp:
		storage, err = StorageCost(fv, op.KeySize, op.ValueSize)
		if err != nil {
			return 0, 0, err
		}
		processing, err = bytesProcessing(fv, op.KeySize, op.ValueSize)
		return storage, processing, err
	case ReplaceOp:
		if op.ValueSize > op.OldSize {
			storage, err = StorageCost(fv, 0, op.ValueSize-op.OldSize)
			if err != nil {
				return 0, 0, err
			}
		}
		processing, err = bytesProcessing(fv, op.KeySize, op.ValueSize)
		return storage, processing, err
	case RemoveOp:
		processing, err = bytesProcessing(fv, op.KeySize, op.ValueSize)
		return 0, processing, err
	case HashOp:
		perBlock, err := safemath.Mul64(op.Blocks, fv.Hashing.SHA256PerBlock)
		if err != nil {
			return 0, 0, err
		}
		processing, err = safemath.Add64(perBlock, fv.Hashing.SingleSHA256Base)
		return 0, processing, err
	case SignatureVerificationOp:
		switch op.KeyType {
		case crypto.ECDSASecp256k1:
			return 0, fv.Signature.VerifyECDSASecp256k1, nil
		case crypto.BLS12381:
			return 0, fv.Signature.VerifyBLS12381, nil
		case crypto.ECDSAHash160:
			return 0, fv.Signature.VerifyECDSAHash160, nil
		case crypto.EdDSA25519Hash160:
			return 0, fv.Signature.VerifyEdDSA25519Hash160, nil
		default:
			return 0, 0, fmt.Errorf("%w: no signature cost for %s", ErrUnpricedOperation, op.KeyType)
		}
	case PreCalculatedOp:
		return op.Storage, op.Processing, nil
	case FunctionCallOp:
		return 0, op.Processing, nil
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrUnpricedOperation, op.Kind)
	}
}

func bytesProcessing(fv *version.FeeVersion, keySize, valueSize uint64) (uint64, error) {
	size, err := safemath.Add64(keySize, valueSize)
	if err != nil {
		return 0, err
	}
	perByte, err := safemath.Mul64(size, fv.Storage.ProcessingCreditPerByte)
	if err != nil {
		return 0, err
	}
	return safemath.Add64(perByte, fv.Storage.SeekCost)
}
