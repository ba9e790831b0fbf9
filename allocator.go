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
	"math"
)

// The allocator binds every pseudo-register to a stack slot or static
// datum, reserves the stack frame, and rewrites operand combinations
// the hardware rejects. R10 stages sources and R11 destinations, so
// both stay reserved across the function.

// maxLegalizationPasses bounds the rewrite loop; the rules converge in
// two or three passes on real input.
const maxLegalizationPasses = 32

func allocateProgram(ctx *Context, program *AsmProgram) (*AsmProgram, error) {
	buildBackendTable(ctx)
	topLevels := make([]AsmTopLevel, 0, len(program.TopLevels))
	for _, topLevel := range program.TopLevels {
		if function, ok := topLevel.(*AsmFunctionDef); ok {
			allocated, err := allocateFunction(ctx, function)
			if err != nil {
				return nil, err
			}
			topLevels = append(topLevels, allocated)
		} else {
			topLevels = append(topLevels, topLevel)
		}
	}
	return &AsmProgram{TopLevels: topLevels}, nil
}

// buildBackendTable projects the symbol table down to what the backend
// needs: widths and storage for objects, definedness for functions.
func buildBackendTable(ctx *Context) {
	for _, name := range ctx.Symbols.Names() {
		sym, _ := ctx.Symbols.Get(name)
		if _, isFun := sym.Type.(*FunType); isFun {
			ctx.Backend[name] = FunEntry{Defined: sym.Attrs.(FunAttrs).Defined}
			continue
		}
		_, isStatic := sym.Attrs.(StaticAttrs)
		ctx.Backend[name] = ObjEntry{Type: asmTypeFor(sym.Type), IsStatic: isStatic}
	}
}

type stackAllocator struct {
	ctx     *Context
	offsets map[string]int
	counter int
}

func allocateFunction(ctx *Context, function *AsmFunctionDef) (*AsmFunctionDef, error) {
	a := &stackAllocator{ctx: ctx, offsets: map[string]int{}}
	instructions := make([]AsmInstruction, 0, len(function.Instructions)+1)
	for _, instruction := range function.Instructions {
		replaced, err := a.replacePseudos(instruction)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, replaced)
	}
	// The ABI requires a 16-byte aligned stack pointer at every call.
	frameSize := roundUp(-a.counter, 16)
	instructions = append([]AsmInstruction{&AsmBinary{
		Op:   AsmSub,
		Type: Quadword,
		Src:  AsmImm{Value: int64(frameSize)},
		Dst:  AsmReg{Reg: RegSP},
	}}, instructions...)
	return &AsmFunctionDef{
		Name:         function.Name,
		Global:       function.Global,
		Instructions: legalize(instructions),
	}, nil
}

func roundUp(n, multiple int) int {
	remainder := n % multiple
	if remainder == 0 {
		return n
	}
	return n + multiple - remainder
}

func (a *stackAllocator) replacePseudos(instruction AsmInstruction) (AsmInstruction, error) {
	switch node := instruction.(type) {
	case *AsmMov:
		src, err := a.replaceOperand(node.Src)
		if err != nil {
			return nil, err
		}
		dst, err := a.replaceOperand(node.Dst)
		if err != nil {
			return nil, err
		}
		return &AsmMov{Type: node.Type, Src: src, Dst: dst}, nil
	case *AsmMovsx:
		src, err := a.replaceOperand(node.Src)
		if err != nil {
			return nil, err
		}
		dst, err := a.replaceOperand(node.Dst)
		if err != nil {
			return nil, err
		}
		return &AsmMovsx{Src: src, Dst: dst}, nil
	case *AsmUnary:
		operand, err := a.replaceOperand(node.Operand)
		if err != nil {
			return nil, err
		}
		return &AsmUnary{Op: node.Op, Type: node.Type, Operand: operand}, nil
	case *AsmBinary:
		src, err := a.replaceOperand(node.Src)
		if err != nil {
			return nil, err
		}
		dst, err := a.replaceOperand(node.Dst)
		if err != nil {
			return nil, err
		}
		return &AsmBinary{Op: node.Op, Type: node.Type, Src: src, Dst: dst}, nil
	case *AsmCmp:
		src, err := a.replaceOperand(node.Src)
		if err != nil {
			return nil, err
		}
		dst, err := a.replaceOperand(node.Dst)
		if err != nil {
			return nil, err
		}
		return &AsmCmp{Type: node.Type, Src: src, Dst: dst}, nil
	case *AsmIdiv:
		operand, err := a.replaceOperand(node.Operand)
		if err != nil {
			return nil, err
		}
		return &AsmIdiv{Type: node.Type, Operand: operand}, nil
	case *AsmSetCC:
		operand, err := a.replaceOperand(node.Operand)
		if err != nil {
			return nil, err
		}
		return &AsmSetCC{Cond: node.Cond, Operand: operand}, nil
	case *AsmPush:
		operand, err := a.replaceOperand(node.Operand)
		if err != nil {
			return nil, err
		}
		return &AsmPush{Operand: operand}, nil
	default:
		return instruction, nil
	}
}

// replaceOperand rewrites a pseudo into a data reference for static
// storage or a frame slot otherwise. Slots are assigned downward from
// the frame pointer, quadwords aligned to eight bytes, and reused on
// repeated occurrences.
func (a *stackAllocator) replaceOperand(operand AsmOperand) (AsmOperand, error) {
	pseudo, ok := operand.(AsmPseudo)
	if !ok {
		return operand, nil
	}
	entry, ok := a.ctx.Backend[pseudo.Name].(ObjEntry)
	if !ok {
		return nil, fmt.Errorf("no backend entry for %v", pseudo.Name)
	}
	if entry.IsStatic {
		return AsmData{Name: pseudo.Name}, nil
	}
	if offset, ok := a.offsets[pseudo.Name]; ok {
		return AsmStack{Offset: offset}, nil
	}
	a.counter -= entry.Type.Size()
	if entry.Type == Quadword && a.counter%8 != 0 {
		a.counter -= 8 + a.counter%8
	}
	a.offsets[pseudo.Name] = a.counter
	return AsmStack{Offset: a.counter}, nil
}

// legalize rewrites instructions until no rule fires. Some rewrites
// introduce moves that match another rule, hence the fixed point.
func legalize(instructions []AsmInstruction) []AsmInstruction {
	for pass := 0; pass < maxLegalizationPasses; pass++ {
		rewritten := make([]AsmInstruction, 0, len(instructions))
		changed := false
		for _, instruction := range instructions {
			replacement, didRewrite := legalizeInstruction(instruction)
			changed = changed || didRewrite
			rewritten = append(rewritten, replacement...)
		}
		instructions = rewritten
		if !changed {
			break
		}
	}
	return instructions
}

func fitsInt32(value int64) bool {
	return value >= math.MinInt32 && value <= math.MaxInt32
}

func isLargeImm(operand AsmOperand) bool {
	imm, ok := operand.(AsmImm)
	return ok && !fitsInt32(imm.Value)
}

func legalizeInstruction(instruction AsmInstruction) ([]AsmInstruction, bool) {
	r10 := AsmReg{Reg: RegR10}
	r11 := AsmReg{Reg: RegR11}
	switch node := instruction.(type) {
	case *AsmMov:
		if node.Type == Longword && isLargeImm(node.Src) {
			truncated := int64(int32(node.Src.(AsmImm).Value))
			return []AsmInstruction{
				&AsmMov{Type: Longword, Src: AsmImm{Value: truncated}, Dst: node.Dst},
			}, true
		}
		if node.Type == Quadword && isLargeImm(node.Src) && isMemory(node.Dst) {
			return []AsmInstruction{
				&AsmMov{Type: Quadword, Src: node.Src, Dst: r10},
				&AsmMov{Type: Quadword, Src: r10, Dst: node.Dst},
			}, true
		}
		if isMemory(node.Src) && isMemory(node.Dst) {
			return []AsmInstruction{
				&AsmMov{Type: node.Type, Src: node.Src, Dst: r10},
				&AsmMov{Type: node.Type, Src: r10, Dst: node.Dst},
			}, true
		}
	case *AsmMovsx:
		srcImm := false
		if _, ok := node.Src.(AsmImm); ok {
			srcImm = true
		}
		switch {
		case srcImm && isMemory(node.Dst):
			return []AsmInstruction{
				&AsmMov{Type: Longword, Src: node.Src, Dst: r10},
				&AsmMovsx{Src: r10, Dst: r11},
				&AsmMov{Type: Quadword, Src: r11, Dst: node.Dst},
			}, true
		case srcImm:
			return []AsmInstruction{
				&AsmMov{Type: Longword, Src: node.Src, Dst: r10},
				&AsmMovsx{Src: r10, Dst: node.Dst},
			}, true
		case isMemory(node.Dst):
			return []AsmInstruction{
				&AsmMovsx{Src: node.Src, Dst: r11},
				&AsmMov{Type: Quadword, Src: r11, Dst: node.Dst},
			}, true
		}
	case *AsmBinary:
		if node.Type == Quadword && isLargeImm(node.Src) {
			return []AsmInstruction{
				&AsmMov{Type: Quadword, Src: node.Src, Dst: r10},
				&AsmBinary{Op: node.Op, Type: node.Type, Src: r10, Dst: node.Dst},
			}, true
		}
		if node.Op == AsmMult && isMemory(node.Dst) {
			return []AsmInstruction{
				&AsmMov{Type: node.Type, Src: node.Dst, Dst: r11},
				&AsmBinary{Op: AsmMult, Type: node.Type, Src: node.Src, Dst: r11},
				&AsmMov{Type: node.Type, Src: r11, Dst: node.Dst},
			}, true
		}
		if (node.Op == AsmAdd || node.Op == AsmSub) && isMemory(node.Src) && isMemory(node.Dst) {
			return []AsmInstruction{
				&AsmMov{Type: node.Type, Src: node.Src, Dst: r10},
				&AsmBinary{Op: node.Op, Type: node.Type, Src: r10, Dst: node.Dst},
			}, true
		}
	case *AsmCmp:
		if node.Type == Quadword && isLargeImm(node.Src) {
			return []AsmInstruction{
				&AsmMov{Type: Quadword, Src: node.Src, Dst: r10},
				&AsmCmp{Type: node.Type, Src: r10, Dst: node.Dst},
			}, true
		}
		if isMemory(node.Src) && isMemory(node.Dst) {
			return []AsmInstruction{
				&AsmMov{Type: node.Type, Src: node.Src, Dst: r10},
				&AsmCmp{Type: node.Type, Src: r10, Dst: node.Dst},
			}, true
		}
		if _, ok := node.Dst.(AsmImm); ok {
			return []AsmInstruction{
				&AsmMov{Type: node.Type, Src: node.Dst, Dst: r11},
				&AsmCmp{Type: node.Type, Src: node.Src, Dst: r11},
			}, true
		}
	case *AsmIdiv:
		if _, ok := node.Operand.(AsmImm); ok {
			return []AsmInstruction{
				&AsmMov{Type: node.Type, Src: node.Operand, Dst: r10},
				&AsmIdiv{Type: node.Type, Operand: r10},
			}, true
		}
	case *AsmPush:
		if isLargeImm(node.Operand) {
			return []AsmInstruction{
				&AsmMov{Type: Quadword, Src: node.Operand, Dst: r10},
				&AsmPush{Operand: r10},
			}, true
		}
	}
	return []AsmInstruction{instruction}, false
}
