// Package state persists a VM's environment between runs: a CBOR snapshot
// codec plus a SQLite-backed slot store. The runtime itself never touches
// disk after load; this is the host side of that contract.
package state

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/pfirsich/dgml/vm"
)

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("state: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot is a serializable copy of a VM's environment variables.
type Snapshot struct {
	Vars []Var `cbor:"vars"`
}

// Var is one captured variable. Exactly the payload field matching Kind is
// meaningful.
type Var struct {
	Name  string  `cbor:"name"`
	Kind  uint32  `cbor:"kind"`
	Bool  bool    `cbor:"b,omitempty"`
	Int   int64   `cbor:"i,omitempty"`
	Float float32 `cbor:"f,omitempty"`
	Str   string  `cbor:"s,omitempty"`
}

// Capture copies the current environment of m into a Snapshot.
func Capture(m *vm.VM) Snapshot {
	envVars := m.EnvVars(nil)
	snap := Snapshot{Vars: make([]Var, len(envVars))}
	for i, ev := range envVars {
		snap.Vars[i] = Var{
			Name:  ev.Name,
			Kind:  uint32(ev.Value.Kind),
			Bool:  ev.Value.B,
			Int:   ev.Value.I,
			Float: ev.Value.F,
			Str:   ev.Value.S,
		}
	}
	return snap
}

// Apply restores a snapshot into m through SetEnvValue, so the runtime's
// type and capacity rules hold. Variables the bundle no longer declares, or
// whose type changed, are reported; everything else is still applied.
func Apply(snap Snapshot, m *vm.VM) error {
	var failed []string
	for _, v := range snap.Vars {
		var value vm.Value
		switch vm.Kind(v.Kind) {
		case vm.KindBool:
			value = vm.BoolValue(v.Bool)
		case vm.KindInt:
			value = vm.IntValue(v.Int)
		case vm.KindFloat:
			value = vm.FloatValue(v.Float)
		case vm.KindString:
			value = vm.StringValue(v.Str)
		default:
			failed = append(failed, v.Name)
			continue
		}
		if !m.SetEnvValue(v.Name, value) {
			failed = append(failed, v.Name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("state: could not restore variables %v", failed)
	}
	return nil
}

// MarshalSnapshot serializes a Snapshot to CBOR bytes.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("state: unmarshal snapshot: %w", err)
	}
	return s, nil
}
