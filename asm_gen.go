// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"

	"github.com/samber/lo"
)

// Lowering translates three-address code into abstract x86-64. Named
// values become pseudo-registers, operations become width-aware
// instruction sequences, and calls follow the System V convention:
// the first six integer arguments in DI, SI, DX, CX, R8, R9, the rest
// pushed right to left with the stack kept 16-byte aligned.

var argRegisters = []AsmRegister{RegDI, RegSI, RegDX, RegCX, RegR8, RegR9}

type asmGenerator struct {
	ctx *Context
}

func lowerProgram(ctx *Context, program *IRProgram) (*AsmProgram, error) {
	g := &asmGenerator{ctx: ctx}
	topLevels := make([]AsmTopLevel, 0, len(program.TopLevels))
	for _, topLevel := range program.TopLevels {
		switch node := topLevel.(type) {
		case *IRFunctionDefinition:
			function, err := g.lowerFunction(node)
			if err != nil {
				return nil, err
			}
			topLevels = append(topLevels, function)
		case *IRStaticVariable:
			topLevels = append(topLevels, &AsmStaticVar{
				Name:      node.Name,
				Global:    node.Global,
				Alignment: staticInitSize(node.Init),
				Init:      node.Init,
			})
		default:
			return nil, fmt.Errorf("cannot lower top level %T", topLevel)
		}
	}
	return &AsmProgram{TopLevels: topLevels}, nil
}

func asmTypeFor(t Type) AssemblyType {
	if typeSize(t) == 4 {
		return Longword
	}
	return Quadword
}

// valType derives an operand's width from the symbol table for named
// values and from the literal's type for constants.
func (g *asmGenerator) valType(v IRVal) (AssemblyType, error) {
	switch val := v.(type) {
	case IRConstant:
		return asmTypeFor(val.Value.ConstType()), nil
	case IRVar:
		sym, ok := g.ctx.Symbols.Get(val.Name)
		if !ok {
			return Longword, fmt.Errorf("missing symbol for %v", val.Name)
		}
		return asmTypeFor(sym.Type), nil
	}
	return Longword, fmt.Errorf("cannot type operand %T", v)
}

func lowerOperand(v IRVal) AsmOperand {
	switch val := v.(type) {
	case IRConstant:
		return AsmImm{Value: int64(constBits(val.Value))}
	case IRVar:
		return AsmPseudo{Name: val.Name}
	}
	panic("cannot lower operand")
}

func (g *asmGenerator) lowerFunction(function *IRFunctionDefinition) (*AsmFunctionDef, error) {
	var instructions []AsmInstruction
	registerParams := function.Params
	var stackParams []string
	if len(registerParams) > len(argRegisters) {
		registerParams, stackParams = registerParams[:len(argRegisters)], registerParams[len(argRegisters):]
	}
	for i, param := range registerParams {
		t, err := g.valType(IRVar{Name: param})
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, &AsmMov{
			Type: t,
			Src:  AsmReg{Reg: argRegisters[i]},
			Dst:  AsmPseudo{Name: param},
		})
	}
	// Stack arguments start above the saved frame pointer and the
	// return address.
	for i, param := range stackParams {
		t, err := g.valType(IRVar{Name: param})
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, &AsmMov{
			Type: t,
			Src:  AsmStack{Offset: 16 + 8*i},
			Dst:  AsmPseudo{Name: param},
		})
	}
	for _, instruction := range function.Body {
		lowered, err := g.lowerInstruction(instruction)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, lowered...)
	}
	return &AsmFunctionDef{
		Name:         function.Name,
		Global:       function.Global,
		Instructions: instructions,
	}, nil
}

func (g *asmGenerator) lowerInstruction(instruction IRInstruction) ([]AsmInstruction, error) {
	switch node := instruction.(type) {
	case *IRReturn:
		t, err := g.valType(node.Val)
		if err != nil {
			return nil, err
		}
		return []AsmInstruction{
			&AsmMov{Type: t, Src: lowerOperand(node.Val), Dst: AsmReg{Reg: RegAX}},
			&AsmRet{},
		}, nil
	case *IRUnary:
		return g.lowerUnary(node)
	case *IRBinary:
		return g.lowerBinary(node)
	case *IRCopy:
		t, err := g.valType(node.Src)
		if err != nil {
			return nil, err
		}
		return []AsmInstruction{
			&AsmMov{Type: t, Src: lowerOperand(node.Src), Dst: lowerOperand(node.Dst)},
		}, nil
	case *IRJump:
		return []AsmInstruction{&AsmJmp{Target: node.Target}}, nil
	case *IRJumpIfZero:
		return g.lowerConditionalJump(node.Cond, node.Target, CondE)
	case *IRJumpIfNotZero:
		return g.lowerConditionalJump(node.Cond, node.Target, CondNE)
	case *IRLabel:
		return []AsmInstruction{&AsmLabel{Name: node.Name}}, nil
	case *IRSignExtend:
		return []AsmInstruction{
			&AsmMovsx{Src: lowerOperand(node.Src), Dst: lowerOperand(node.Dst)},
		}, nil
	case *IRTruncate:
		return []AsmInstruction{
			&AsmMov{Type: Longword, Src: lowerOperand(node.Src), Dst: lowerOperand(node.Dst)},
		}, nil
	case *IRZeroExtend:
		// A longword mov into a register clears the upper half, which
		// is exactly the zero extension; store the full quadword after.
		return []AsmInstruction{
			&AsmMov{Type: Longword, Src: lowerOperand(node.Src), Dst: AsmReg{Reg: RegR11}},
			&AsmMov{Type: Quadword, Src: AsmReg{Reg: RegR11}, Dst: lowerOperand(node.Dst)},
		}, nil
	case *IRFunCall:
		return g.lowerFunCall(node)
	}
	return nil, fmt.Errorf("cannot lower instruction %T", instruction)
}

func (g *asmGenerator) lowerConditionalJump(cond IRVal, target string, cc AsmCondCode) ([]AsmInstruction, error) {
	t, err := g.valType(cond)
	if err != nil {
		return nil, err
	}
	return []AsmInstruction{
		&AsmCmp{Type: t, Src: AsmImm{Value: 0}, Dst: lowerOperand(cond)},
		&AsmJmpCC{Cond: cc, Target: target},
	}, nil
}

func (g *asmGenerator) lowerUnary(node *IRUnary) ([]AsmInstruction, error) {
	srcType, err := g.valType(node.Src)
	if err != nil {
		return nil, err
	}
	dstType, err := g.valType(node.Dst)
	if err != nil {
		return nil, err
	}
	src, dst := lowerOperand(node.Src), lowerOperand(node.Dst)
	if node.Op == IRNot {
		return []AsmInstruction{
			&AsmCmp{Type: srcType, Src: AsmImm{Value: 0}, Dst: src},
			&AsmMov{Type: dstType, Src: AsmImm{Value: 0}, Dst: dst},
			&AsmSetCC{Cond: CondE, Operand: dst},
		}, nil
	}
	op := AsmNeg
	if node.Op == IRComplement {
		op = AsmNot
	}
	return []AsmInstruction{
		&AsmMov{Type: srcType, Src: src, Dst: dst},
		&AsmUnary{Op: op, Type: srcType, Operand: dst},
	}, nil
}

func (g *asmGenerator) lowerBinary(node *IRBinary) ([]AsmInstruction, error) {
	t, err := g.valType(node.Src1)
	if err != nil {
		return nil, err
	}
	src1, src2, dst := lowerOperand(node.Src1), lowerOperand(node.Src2), lowerOperand(node.Dst)
	switch node.Op {
	case IRDivide, IRRemainder:
		resultReg := RegAX
		if node.Op == IRRemainder {
			resultReg = RegDX
		}
		return []AsmInstruction{
			&AsmMov{Type: t, Src: src1, Dst: AsmReg{Reg: RegAX}},
			&AsmCdq{Type: t},
			&AsmIdiv{Type: t, Operand: src2},
			&AsmMov{Type: t, Src: AsmReg{Reg: resultReg}, Dst: dst},
		}, nil
	case IRAdd, IRSubtract, IRMultiply:
		ops := map[IRBinaryOperator]AsmBinaryOperator{
			IRAdd:      AsmAdd,
			IRSubtract: AsmSub,
			IRMultiply: AsmMult,
		}
		return []AsmInstruction{
			&AsmMov{Type: t, Src: src1, Dst: dst},
			&AsmBinary{Op: ops[node.Op], Type: t, Src: src2, Dst: dst},
		}, nil
	default:
		if !node.Op.isRelational() {
			return nil, fmt.Errorf("cannot lower binary operator %v", node.Op)
		}
		dstType, err := g.valType(node.Dst)
		if err != nil {
			return nil, err
		}
		cc, err := conditionFor(node.Op)
		if err != nil {
			return nil, err
		}
		return []AsmInstruction{
			&AsmCmp{Type: t, Src: src2, Dst: src1},
			&AsmMov{Type: dstType, Src: AsmImm{Value: 0}, Dst: dst},
			&AsmSetCC{Cond: cc, Operand: dst},
		}, nil
	}
}

func conditionFor(op IRBinaryOperator) (AsmCondCode, error) {
	switch op {
	case IREqual:
		return CondE, nil
	case IRNotEqual:
		return CondNE, nil
	case IRLessThan:
		return CondL, nil
	case IRLessOrEqual:
		return CondLE, nil
	case IRGreaterThan:
		return CondG, nil
	case IRGreaterOrEqual:
		return CondGE, nil
	}
	return CondE, fmt.Errorf("operator %v has no condition code", op)
}

func (g *asmGenerator) lowerFunCall(node *IRFunCall) ([]AsmInstruction, error) {
	registerArgs := node.Args
	var stackArgs []IRVal
	if len(registerArgs) > len(argRegisters) {
		registerArgs, stackArgs = registerArgs[:len(argRegisters)], registerArgs[len(argRegisters):]
	}

	var instructions []AsmInstruction
	// Every stack slot is eight bytes, so an odd number of pushed
	// arguments would leave the stack misaligned at the call.
	padding := int64(0)
	if len(stackArgs)%2 != 0 {
		padding = 8
		instructions = append(instructions, &AsmBinary{
			Op:   AsmSub,
			Type: Quadword,
			Src:  AsmImm{Value: 8},
			Dst:  AsmReg{Reg: RegSP},
		})
	}
	for i, arg := range registerArgs {
		t, err := g.valType(arg)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, &AsmMov{
			Type: t,
			Src:  lowerOperand(arg),
			Dst:  AsmReg{Reg: argRegisters[i]},
		})
	}
	for i := len(stackArgs) - 1; i >= 0; i-- {
		t, err := g.valType(stackArgs[i])
		if err != nil {
			return nil, err
		}
		operand := lowerOperand(stackArgs[i])
		switch operand.(type) {
		case AsmImm, AsmReg:
			instructions = append(instructions, &AsmPush{Operand: operand})
		default:
			if t == Quadword {
				instructions = append(instructions, &AsmPush{Operand: operand})
			} else {
				// pushq reads eight bytes; a longword in memory must be
				// staged through a register first.
				instructions = append(instructions,
					&AsmMov{Type: Longword, Src: operand, Dst: AsmReg{Reg: RegAX}},
					&AsmPush{Operand: AsmReg{Reg: RegAX}})
			}
		}
	}
	instructions = append(instructions, &AsmCall{Name: node.Name})

	if bytesToRemove := int64(8*len(stackArgs)) + padding; bytesToRemove > 0 {
		instructions = append(instructions, &AsmBinary{
			Op:   AsmAdd,
			Type: Quadword,
			Src:  AsmImm{Value: bytesToRemove},
			Dst:  AsmReg{Reg: RegSP},
		})
	}
	dstType, err := g.valType(node.Dst)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, &AsmMov{
		Type: dstType,
		Src:  AsmReg{Reg: RegAX},
		Dst:  lowerOperand(node.Dst),
	})
	return instructions, nil
}

// operandPseudos lists the pseudo-register names an instruction's
// operands refer to, used by tests to check that allocation is total.
func operandPseudos(instructions []AsmInstruction) []string {
	var names []string
	for _, instruction := range instructions {
		for _, operand := range instructionOperands(instruction) {
			if pseudo, ok := operand.(AsmPseudo); ok {
				names = append(names, pseudo.Name)
			}
		}
	}
	return lo.Uniq(names)
}

func instructionOperands(instruction AsmInstruction) []AsmOperand {
	switch node := instruction.(type) {
	case *AsmMov:
		return []AsmOperand{node.Src, node.Dst}
	case *AsmMovsx:
		return []AsmOperand{node.Src, node.Dst}
	case *AsmUnary:
		return []AsmOperand{node.Operand}
	case *AsmBinary:
		return []AsmOperand{node.Src, node.Dst}
	case *AsmCmp:
		return []AsmOperand{node.Src, node.Dst}
	case *AsmIdiv:
		return []AsmOperand{node.Operand}
	case *AsmSetCC:
		return []AsmOperand{node.Operand}
	case *AsmPush:
		return []AsmOperand{node.Operand}
	}
	return nil
}
