package store

import (
	"encoding/json"
	"fmt"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
)

// InitMode records how the client's database was first populated: a fresh
// join or a backup recovery.
type InitMode string

const (
	InitModeFresh    InitMode = "fresh"
	InitModeRecovery InitMode = "recovery"
)

// Init-state phases. Pending is written before module setup begins; Complete
// replaces it once every module finished initializing, so a crash mid-init
// is distinguishable from a finished one on the next open.
const (
	InitPhasePending  = "pending"
	InitPhaseComplete = "complete"
)

// InitState is the value stored under the init_state bucket's fixed key.
type InitState struct {
	Phase string   `json:"phase"`
	Mode  InitMode `json:"mode"`
}

// SetInitState writes the client's init record.
func (t *Tx) SetInitState(s InitState) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: encode init state: %w", err)
	}
	return t.Put(BucketInitState, InitStateKey(), b)
}

// GetInitState reads the client's init record; ok is false if none was ever
// written.
func (t *Tx) GetInitState() (InitState, bool, error) {
	b, ok, err := t.Get(BucketInitState, InitStateKey())
	if err != nil || !ok {
		return InitState{}, false, err
	}
	var s InitState
	if err := json.Unmarshal(b, &s); err != nil {
		return InitState{}, false, fmt.Errorf("store: decode init state: %w", err)
	}
	return s, true, nil
}

// ModuleRecovery tracks one module instance's backup-recovery progress, so a
// restart resumes rather than restarts the scan.
type ModuleRecovery struct {
	Progress uint64 `json:"progress"`
	Done     bool   `json:"done"`
}

// SetModuleRecovery writes instanceID's recovery record.
func (t *Tx) SetModuleRecovery(instanceID smkit.ModuleInstanceId, r ModuleRecovery) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: encode module recovery: %w", err)
	}
	return t.Put(BucketModuleRecovery, ModuleRecoveryKey(instanceID), b)
}

// GetModuleRecovery reads instanceID's recovery record; ok is false if the
// module never started a recovery.
func (t *Tx) GetModuleRecovery(instanceID smkit.ModuleInstanceId) (ModuleRecovery, bool, error) {
	b, ok, err := t.Get(BucketModuleRecovery, ModuleRecoveryKey(instanceID))
	if err != nil || !ok {
		return ModuleRecovery{}, false, err
	}
	var r ModuleRecovery
	if err := json.Unmarshal(b, &r); err != nil {
		return ModuleRecovery{}, false, fmt.Errorf("store: decode module recovery: %w", err)
	}
	return r, true, nil
}

// SetPreRootSecretHash pins the hash of the secret this database was derived
// from, letting a reopen detect a mismatched wallet secret before any module
// touches its data.
func (t *Tx) SetPreRootSecretHash(hash [32]byte) error {
	return t.Put(BucketPreRootSecretHash, PreRootSecretHashKey(), hash[:])
}

// GetPreRootSecretHash reads the pinned secret hash; ok is false if none was
// recorded.
func (t *Tx) GetPreRootSecretHash() ([32]byte, bool, error) {
	b, ok, err := t.Get(BucketPreRootSecretHash, PreRootSecretHashKey())
	if err != nil || !ok {
		return [32]byte{}, false, err
	}
	if len(b) != 32 {
		return [32]byte{}, false, fmt.Errorf("store: pre-root secret hash has %d bytes, want 32", len(b))
	}
	var out [32]byte
	copy(out[:], b)
	return out, true, nil
}
