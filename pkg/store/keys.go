package store

import (
	"encoding/binary"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
)

// activeKey builds the active/inactive bucket key shape:
// ModuleInstanceId(2) | OperationId(32) | canonical-encoding(state).
func activeKey(instanceID smkit.ModuleInstanceId, opID smkit.OperationId, encoded []byte) []byte {
	key := make([]byte, 0, 2+32+len(encoded))
	var instBuf [2]byte
	binary.BigEndian.PutUint16(instBuf[:], uint16(instanceID))
	key = append(key, instBuf[:]...)
	key = append(key, opID[:]...)
	key = append(key, encoded...)
	return key
}

// inactiveKey appends the terminated_at suffix required of the inactive
// bucket's key shape.
func inactiveKey(instanceID smkit.ModuleInstanceId, opID smkit.OperationId, encoded []byte, terminatedAt uint64) []byte {
	key := activeKey(instanceID, opID, encoded)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], terminatedAt)
	return append(key, tsBuf[:]...)
}

// ActiveKey builds the active/inactive bucket key for one machine row,
// exported so callers (executor admission, driver commits) can look up or
// compare a row's exact key without duplicating the encoding rule.
func ActiveKey(instanceID smkit.ModuleInstanceId, opID smkit.OperationId, encoded []byte) []byte {
	return activeKey(instanceID, opID, encoded)
}

// InsertActive records a newly admitted or transitioned machine in the
// active bucket. The value is empty: the key alone carries the state via
// its canonical encoding.
func (t *Tx) InsertActive(instanceID smkit.ModuleInstanceId, opID smkit.OperationId, encoded []byte) error {
	return t.Put(BucketActive, activeKey(instanceID, opID, encoded), []byte{})
}

// RemoveActive deletes a machine's row from the active bucket, used both when
// a machine transitions to a new state (delete-old/insert-new within one
// store.Tx) and when it moves to inactive.
func (t *Tx) RemoveActive(instanceID smkit.ModuleInstanceId, opID smkit.OperationId, encoded []byte) error {
	return t.Delete(BucketActive, activeKey(instanceID, opID, encoded))
}

// InsertInactive records a machine's terminal state in the inactive bucket.
func (t *Tx) InsertInactive(instanceID smkit.ModuleInstanceId, opID smkit.OperationId, encoded []byte, terminatedAt uint64) error {
	return t.Put(BucketInactive, inactiveKey(instanceID, opID, encoded, terminatedAt), []byte{})
}

// SplitActiveKey recovers the (ModuleInstanceId, OperationId, encoded state)
// components of an active/inactive bucket key, for callers (crash-recovery
// scans) that need to decode a persisted row back into a DynState.
func SplitActiveKey(key []byte) (instanceID smkit.ModuleInstanceId, opID smkit.OperationId, encoded []byte, ok bool) {
	if len(key) < 34 {
		return 0, smkit.OperationId{}, nil, false
	}
	instanceID = smkit.ModuleInstanceId(binary.BigEndian.Uint16(key[:2]))
	copy(opID[:], key[2:34])
	encoded = key[34:]
	return instanceID, opID, encoded, true
}

// ActivePrefix returns the iteration prefix that selects every active or
// inactive row of one module instance within a single operation.
func ActivePrefix(instanceID smkit.ModuleInstanceId, opID smkit.OperationId) []byte {
	var instBuf [2]byte
	binary.BigEndian.PutUint16(instBuf[:], uint16(instanceID))
	key := make([]byte, 0, 2+32)
	key = append(key, instBuf[:]...)
	key = append(key, opID[:]...)
	return key
}

// OplogKey builds the big-endian uint64 sequence key used by the oplog
// bucket.
func OplogKey(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

// ModuleRecoveryKey builds the fixed 2-byte key used by the module_recovery
// bucket.
func ModuleRecoveryKey(instanceID smkit.ModuleInstanceId) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(instanceID))
	return buf[:]
}

const (
	initStateKey         = "init"
	preRootSecretHashKey = "pre_root_secret_hash"
)

// InitStateKey returns the fixed key used in the init_state bucket.
func InitStateKey() []byte { return []byte(initStateKey) }

// PreRootSecretHashKey returns the fixed key used in the
// pre_root_secret_hash bucket.
func PreRootSecretHashKey() []byte { return []byte(preRootSecretHashKey) }
