package vm

// ---------------------------------------------------------------------------
// Text interpolation
// ---------------------------------------------------------------------------

// interpValue formats a numeric value through the interpolation buffer,
// which bounds the total bytes of formatted text per advance. Returns
// ok=false when the buffer is exhausted.
func (vm *VM) interpValue(v Value) (string, bool) {
	b := v.appendFormat(vm.interpBuf[vm.interpOff:vm.interpOff])
	if len(b) > len(vm.interpBuf)-vm.interpOff {
		return "", false
	}
	vm.interpOff += len(b)
	return string(b), true
}

// interpolateText expands text into the fragments scratch: literal fragments
// pass the tree's string through unchanged, variable fragments are replaced
// by the variable's current value (Unset formats as ""). Markup is carried
// forward either way. The returned slice is valid until the next Advance.
func (vm *VM) interpolateText(text Text) ([]TextFragment, bool) {
	if vm.textFragsOff+len(text.Frags) > len(vm.textFrags) {
		return nil, false
	}
	frags := vm.textFrags[vm.textFragsOff : vm.textFragsOff+len(text.Frags)]

	for i, f := range text.Frags {
		frags[i] = TextFragment{Markup: f.Markup}
		if !f.IsVar {
			frags[i].Text = f.Text
			continue
		}

		val := vm.EnvValue(f.Text)
		switch val.Kind {
		case KindBool:
			if val.B {
				frags[i].Text = "true"
			} else {
				frags[i].Text = "false"
			}
		case KindInt, KindFloat:
			s, ok := vm.interpValue(val)
			if !ok {
				return nil, false
			}
			frags[i].Text = s
		case KindString:
			frags[i].Text = val.S
		default:
			frags[i].Text = ""
		}
	}

	vm.textFragsOff += len(text.Frags)
	return frags, true
}
