package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Bytecode evaluator
// ---------------------------------------------------------------------------

func evalError(format string, args ...any) *AdvanceError {
	return &AdvanceError{Code: ErrorEvalFail, Message: fmt.Sprintf(format, args...)}
}

// push puts v on the value stack. Pushing past the configured stack size is
// an eval error.
func (vm *VM) push(v Value) *AdvanceError {
	if vm.stackSize >= len(vm.stack) {
		return evalError("stack overflow")
	}
	vm.stack[vm.stackSize] = v
	vm.stackSize++
	return nil
}

// pop removes and returns the top of the stack. An empty stack yields Unset;
// the operators reject Unset operands, so underflow surfaces as a missing
// operand error at the use site.
func (vm *VM) pop() Value {
	if vm.stackSize == 0 {
		return Unset
	}
	vm.stackSize--
	return vm.stack[vm.stackSize]
}

// eval runs code on a cleared stack and returns the topmost remaining value
// (Unset if the stack ends empty).
func (vm *VM) eval(code Code) (Value, *AdvanceError) {
	vm.stackSize = 0

	for _, instr := range code {
		var err *AdvanceError
		switch instr.Op {
		case OpPushBool:
			err = vm.push(BoolValue(instr.Param == 1))
		case OpPushInt:
			err = vm.push(IntValue(int64(int32(instr.Param))))
		case OpPushFloat:
			err = vm.push(FloatValue(math.Float32frombits(instr.Param)))
		case OpPushString:
			err = vm.push(StringValue(vm.tree.stringAt(instr.Param)))

		case OpGetVar:
			err = vm.push(vm.EnvValue(vm.tree.stringAt(instr.Param)))
		case OpSetVar:
			name := vm.tree.stringAt(instr.Param)
			if !vm.SetEnvValue(name, vm.pop()) {
				err = evalError("cannot set variable %q", name)
				break
			}
			vm.recordChangedVar(name)

		case OpNot:
			top := vm.pop()
			if top.Kind != KindBool {
				err = evalError("operand of NOT must be of type bool")
				break
			}
			err = vm.push(BoolValue(!top.B))

		case OpAdd, OpSub, OpMul, OpDiv:
			err = vm.evalArith(instr.Op)
		case OpOr, OpAnd:
			err = vm.evalLogic(instr.Op)
		case OpLt, OpLe, OpGt, OpGe:
			err = vm.evalCompare(instr.Op)
		case OpEq, OpNe:
			err = vm.evalEquality(instr.Op)

		default:
			err = evalError("invalid byte code")
		}

		if err != nil {
			return Unset, err
		}
	}

	if vm.stackSize > 0 {
		return vm.stack[vm.stackSize-1], nil
	}
	return Unset, nil
}

// recordChangedVar adds name to the per-advance changed-vars list,
// deduplicated and in insertion order.
func (vm *VM) recordChangedVar(name string) {
	for _, v := range vm.changedVars {
		if v == name {
			return
		}
	}
	vm.changedVars = append(vm.changedVars, name)
}

// popOperands pops rhs, then lhs, and rejects missing operands.
func (vm *VM) popOperands() (lhs, rhs Value, err *AdvanceError) {
	rhs = vm.pop()
	lhs = vm.pop()
	if lhs.Kind == KindUnset || rhs.Kind == KindUnset {
		return Unset, Unset, evalError("missing operands for binary operator")
	}
	return lhs, rhs, nil
}

// evalArith handles ADD/SUB/MUL/DIV. Both operands must be numeric; two ints
// stay int, otherwise both promote to float. Integer division by zero is an
// error, float division follows IEEE-754.
func (vm *VM) evalArith(op Opcode) *AdvanceError {
	lhs, rhs, err := vm.popOperands()
	if err != nil {
		return err
	}
	if !lhs.isNumeric() || !rhs.isNumeric() {
		return evalError("invalid binary operand types")
	}

	if lhs.Kind == KindInt && rhs.Kind == KindInt {
		switch op {
		case OpAdd:
			return vm.push(IntValue(lhs.I + rhs.I))
		case OpSub:
			return vm.push(IntValue(lhs.I - rhs.I))
		case OpMul:
			return vm.push(IntValue(lhs.I * rhs.I))
		default:
			if rhs.I == 0 {
				return evalError("division by zero")
			}
			return vm.push(IntValue(lhs.I / rhs.I))
		}
	}

	a, b := lhs.float(), rhs.float()
	switch op {
	case OpAdd:
		return vm.push(FloatValue(a + b))
	case OpSub:
		return vm.push(FloatValue(a - b))
	case OpMul:
		return vm.push(FloatValue(a * b))
	default:
		return vm.push(FloatValue(a / b))
	}
}

// evalLogic handles OR/AND. Non-bool numeric operands are coerced as truthy.
func (vm *VM) evalLogic(op Opcode) *AdvanceError {
	lhs, rhs, err := vm.popOperands()
	if err != nil {
		return err
	}
	a, aok := lhs.truthy()
	b, bok := rhs.truthy()
	if !aok || !bok {
		return evalError("invalid binary operand types")
	}
	if op == OpOr {
		return vm.push(BoolValue(a || b))
	}
	return vm.push(BoolValue(a && b))
}

// evalCompare handles LT/LE/GT/GE on numeric operands, promoting like
// evalArith.
func (vm *VM) evalCompare(op Opcode) *AdvanceError {
	lhs, rhs, err := vm.popOperands()
	if err != nil {
		return err
	}
	if !lhs.isNumeric() || !rhs.isNumeric() {
		return evalError("invalid binary operand types")
	}

	var r bool
	if lhs.Kind == KindInt && rhs.Kind == KindInt {
		switch op {
		case OpLt:
			r = lhs.I < rhs.I
		case OpLe:
			r = lhs.I <= rhs.I
		case OpGt:
			r = lhs.I > rhs.I
		default:
			r = lhs.I >= rhs.I
		}
	} else {
		// Native float comparisons so NaN operands compare false.
		a, b := lhs.float(), rhs.float()
		switch op {
		case OpLt:
			r = a < b
		case OpLe:
			r = a <= b
		case OpGt:
			r = a > b
		default:
			r = a >= b
		}
	}
	return vm.push(BoolValue(r))
}

// evalEquality handles EQ/NE. Operands must be of the same type or both
// numeric; strings compare by content.
func (vm *VM) evalEquality(op Opcode) *AdvanceError {
	lhs, rhs, err := vm.popOperands()
	if err != nil {
		return err
	}
	if lhs.Kind != rhs.Kind && !(lhs.isNumeric() && rhs.isNumeric()) {
		return evalError("invalid binary operand types")
	}
	eq := lhs.Equal(rhs)
	if op == OpNe {
		eq = !eq
	}
	return vm.push(BoolValue(eq))
}
