// Package smkit defines the State/StateTransition contract that module
// plugins implement and the executor drives. It has no knowledge of any
// particular module's payload shape; everything here is generic over the
// module-private context type.
package smkit

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// OperationId identifies a caller-visible workflow composed of one or more
// state machines. It is opaque to the executor beyond equality and grouping.
type OperationId [32]byte

// ZeroOperationId is never a valid operation id; it is used as a sentinel.
var ZeroOperationId OperationId

func (o OperationId) String() string {
	return hex.EncodeToString(o[:])
}

// MarshalText implements encoding.TextMarshaler so OperationId round-trips
// cleanly through JSON log fields and the operation log.
func (o OperationId) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *OperationId) UnmarshalText(b []byte) error {
	decoded, err := hex.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("operation id: %w", err)
	}
	if len(decoded) != len(o) {
		return errors.New("operation id: wrong length")
	}
	copy(o[:], decoded)
	return nil
}

// OperationIdFromBytes copies arbitrary bytes into an OperationId: input
// longer than 32 bytes is truncated, shorter input is zero-padded. Callers minting a fresh id (e.g. from a uuid.New()) use this
// rather than constructing the array directly.
func OperationIdFromBytes(b []byte) OperationId {
	var id OperationId
	if len(b) >= len(id) {
		copy(id[:], b[:len(id)])
		return id
	}
	copy(id[:], b)
	return id
}

// ModuleInstanceId identifies one instantiation of a module within the
// client. It is fixed at client init and never reused across modules.
type ModuleInstanceId uint16

// ModuleKind names a module implementation, independent of which instance
// id it was registered under.
type ModuleKind string
