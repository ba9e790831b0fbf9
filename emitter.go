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
	"strings"
)

// The code emitter renders the legalized assembly AST as AT&T syntax
// for the system assembler. Labels get a .L prefix to stay out of the
// symbol table, and calls into other translation units go through the
// PLT.

func emitProgram(ctx *Context, program *AsmProgram) (string, error) {
	var builder strings.Builder
	for _, topLevel := range program.TopLevels {
		switch node := topLevel.(type) {
		case *AsmFunctionDef:
			if err := emitFunction(ctx, &builder, node); err != nil {
				return "", err
			}
		case *AsmStaticVar:
			emitStaticVar(&builder, node)
		default:
			return "", fmt.Errorf("cannot emit top level %T", topLevel)
		}
	}
	builder.WriteString("\t.section .note.GNU-stack,\"\",@progbits\n")
	return builder.String(), nil
}

func emitFunction(ctx *Context, builder *strings.Builder, function *AsmFunctionDef) error {
	if function.Global {
		fmt.Fprintf(builder, "\t.globl %s\n", function.Name)
	}
	builder.WriteString("\t.text\n")
	fmt.Fprintf(builder, "%s:\n", function.Name)
	builder.WriteString("\tpushq\t%rbp\n")
	builder.WriteString("\tmovq\t%rsp, %rbp\n")
	for _, instruction := range function.Instructions {
		if err := emitInstruction(ctx, builder, instruction); err != nil {
			return err
		}
	}
	return nil
}

func emitStaticVar(builder *strings.Builder, variable *AsmStaticVar) {
	if variable.Global {
		fmt.Fprintf(builder, "\t.globl %s\n", variable.Name)
	}
	if variable.Init.IsZero() {
		builder.WriteString("\t.bss\n")
		fmt.Fprintf(builder, "\t.align %d\n", variable.Alignment)
		fmt.Fprintf(builder, "%s:\n", variable.Name)
		fmt.Fprintf(builder, "\t.zero %d\n", staticInitSize(variable.Init))
		return
	}
	builder.WriteString("\t.data\n")
	fmt.Fprintf(builder, "\t.align %d\n", variable.Alignment)
	fmt.Fprintf(builder, "%s:\n", variable.Name)
	fmt.Fprintf(builder, "\t%s\n", staticInitDirective(variable.Init))
}

func staticInitDirective(init StaticInit) string {
	switch v := init.(type) {
	case IntInit:
		return fmt.Sprintf(".long %d", v.Value)
	case UIntInit:
		return fmt.Sprintf(".long %d", v.Value)
	case LongInit:
		return fmt.Sprintf(".quad %d", v.Value)
	case ULongInit:
		return fmt.Sprintf(".quad %d", v.Value)
	}
	panic("unknown static initializer")
}

// instructionSuffix selects the AT&T mnemonic suffix for a width.
func instructionSuffix(t AssemblyType) string {
	if t == Longword {
		return "l"
	}
	return "q"
}

func emitInstruction(ctx *Context, builder *strings.Builder, instruction AsmInstruction) error {
	switch node := instruction.(type) {
	case *AsmMov:
		src, err := emitOperand(node.Src, node.Type)
		if err != nil {
			return err
		}
		dst, err := emitOperand(node.Dst, node.Type)
		if err != nil {
			return err
		}
		fmt.Fprintf(builder, "\tmov%s\t%s, %s\n", instructionSuffix(node.Type), src, dst)
	case *AsmMovsx:
		src, err := emitOperand(node.Src, Longword)
		if err != nil {
			return err
		}
		dst, err := emitOperand(node.Dst, Quadword)
		if err != nil {
			return err
		}
		fmt.Fprintf(builder, "\tmovslq\t%s, %s\n", src, dst)
	case *AsmUnary:
		operand, err := emitOperand(node.Operand, node.Type)
		if err != nil {
			return err
		}
		mnemonic := "neg"
		if node.Op == AsmNot {
			mnemonic = "not"
		}
		fmt.Fprintf(builder, "\t%s%s\t%s\n", mnemonic, instructionSuffix(node.Type), operand)
	case *AsmBinary:
		src, err := emitOperand(node.Src, node.Type)
		if err != nil {
			return err
		}
		dst, err := emitOperand(node.Dst, node.Type)
		if err != nil {
			return err
		}
		mnemonics := map[AsmBinaryOperator]string{AsmAdd: "add", AsmSub: "sub", AsmMult: "imul"}
		fmt.Fprintf(builder, "\t%s%s\t%s, %s\n", mnemonics[node.Op], instructionSuffix(node.Type), src, dst)
	case *AsmCmp:
		src, err := emitOperand(node.Src, node.Type)
		if err != nil {
			return err
		}
		dst, err := emitOperand(node.Dst, node.Type)
		if err != nil {
			return err
		}
		fmt.Fprintf(builder, "\tcmp%s\t%s, %s\n", instructionSuffix(node.Type), src, dst)
	case *AsmIdiv:
		operand, err := emitOperand(node.Operand, node.Type)
		if err != nil {
			return err
		}
		fmt.Fprintf(builder, "\tidiv%s\t%s\n", instructionSuffix(node.Type), operand)
	case *AsmCdq:
		if node.Type == Longword {
			builder.WriteString("\tcdq\n")
		} else {
			builder.WriteString("\tcqo\n")
		}
	case *AsmJmp:
		fmt.Fprintf(builder, "\tjmp\t.L%s\n", node.Target)
	case *AsmJmpCC:
		fmt.Fprintf(builder, "\tj%s\t.L%s\n", node.Cond.suffix(), node.Target)
	case *AsmSetCC:
		operand, err := emitByteOperand(node.Operand)
		if err != nil {
			return err
		}
		fmt.Fprintf(builder, "\tset%s\t%s\n", node.Cond.suffix(), operand)
	case *AsmLabel:
		fmt.Fprintf(builder, ".L%s:\n", node.Name)
	case *AsmPush:
		operand, err := emitOperand(node.Operand, Quadword)
		if err != nil {
			return err
		}
		fmt.Fprintf(builder, "\tpushq\t%s\n", operand)
	case *AsmCall:
		fmt.Fprintf(builder, "\tcall\t%s%s\n", node.Name, pltSuffix(ctx, node.Name))
	case *AsmRet:
		builder.WriteString("\tmovq\t%rbp, %rsp\n")
		builder.WriteString("\tpopq\t%rbp\n")
		builder.WriteString("\tret\n")
	default:
		return fmt.Errorf("cannot emit instruction %T", instruction)
	}
	return nil
}

// pltSuffix marks calls to functions defined in another translation
// unit, which go through the procedure linkage table.
func pltSuffix(ctx *Context, name string) string {
	if entry, ok := ctx.Backend[name].(FunEntry); ok && !entry.Defined {
		return "@PLT"
	}
	return ""
}

func emitOperand(operand AsmOperand, t AssemblyType) (string, error) {
	switch op := operand.(type) {
	case AsmImm:
		return fmt.Sprintf("$%d", op.Value), nil
	case AsmReg:
		if t == Longword {
			return op.Reg.dwordName(), nil
		}
		return op.Reg.qwordName(), nil
	case AsmStack:
		return fmt.Sprintf("%d(%%rbp)", op.Offset), nil
	case AsmData:
		return fmt.Sprintf("%s(%%rip)", op.Name), nil
	}
	return "", fmt.Errorf("cannot emit operand %T", operand)
}

func emitByteOperand(operand AsmOperand) (string, error) {
	if reg, ok := operand.(AsmReg); ok {
		return reg.Reg.byteName(), nil
	}
	return emitOperand(operand, Longword)
}
