package vm

// ---------------------------------------------------------------------------
// Environment store
// ---------------------------------------------------------------------------

// envVar is the VM-side state of one environment variable. strCap bounds
// string payloads: a variable never grows past the capacity chosen at VM
// creation, so hosts can rely on writes never resizing state.
type envVar struct {
	name   string
	value  Value
	strCap int
}

// EnvValue returns the current value of the named variable, or Unset if the
// bundle declares no such variable. Variable counts are small; lookup is a
// linear scan.
func (vm *VM) EnvValue(name string) Value {
	for i := range vm.envVars {
		if vm.envVars[i].name == name {
			return vm.envVars[i].value
		}
	}
	return Unset
}

// SetEnvValue stores value into the named variable. It returns false without
// changing anything if the variable does not exist, if value's kind differs
// from the variable's declared type (type-changing assignments are rejected),
// or if a string payload exceeds the variable's capacity.
func (vm *VM) SetEnvValue(name string, value Value) bool {
	for i := range vm.envVars {
		v := &vm.envVars[i]
		if v.name != name {
			continue
		}
		if v.value.Kind != value.Kind {
			return false
		}
		if value.Kind == KindString && len(value.S)+1 > v.strCap {
			// One byte of the capacity is reserved for the terminator in the
			// wire representation, so the longest storable payload is cap-1.
			return false
		}
		v.value = value
		return true
	}
	return false
}

// EnvVars appends the current name and value of every environment variable
// to dst and returns the result. The order is the bundle's declaration
// order.
func (vm *VM) EnvVars(dst []EnvVar) []EnvVar {
	for i := range vm.envVars {
		dst = append(dst, EnvVar{Name: vm.envVars[i].name, Value: vm.envVars[i].value})
	}
	return dst
}
