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

import "fmt"

// The IR emitter linearizes the typed C-AST into three-address code:
// nested expressions flow through fresh temporaries, short-circuit
// operators and all control flow become labels and jumps.

type irEmitter struct {
	ctx          *Context
	instructions []IRInstruction
}

func emitTackyProgram(ctx *Context, program *Program) (*IRProgram, error) {
	e := &irEmitter{ctx: ctx}
	var topLevels []IRTopLevel
	for _, decl := range program.Declarations {
		funDecl, ok := decl.(*FunctionDeclaration)
		if !ok || funDecl.Body == nil {
			continue
		}
		function, err := e.emitFunction(funDecl)
		if err != nil {
			return nil, err
		}
		topLevels = append(topLevels, function)
	}
	topLevels = append(topLevels, e.materializeStatics()...)
	return &IRProgram{TopLevels: topLevels}, nil
}

// materializeStatics turns every static-storage symbol into a data
// definition: explicit initializers as-is, tentative ones as zero.
func (e *irEmitter) materializeStatics() []IRTopLevel {
	var statics []IRTopLevel
	for _, name := range e.ctx.Symbols.Names() {
		sym, _ := e.ctx.Symbols.Get(name)
		attrs, ok := sym.Attrs.(StaticAttrs)
		if !ok {
			continue
		}
		switch init := attrs.Init.(type) {
		case Initial:
			statics = append(statics, &IRStaticVariable{
				Name:   name,
				Global: attrs.Global,
				Type:   sym.Type,
				Init:   init.Value,
			})
		case Tentative:
			statics = append(statics, &IRStaticVariable{
				Name:   name,
				Global: attrs.Global,
				Type:   sym.Type,
				Init:   zeroInitFor(sym.Type),
			})
		}
	}
	return statics
}

func (e *irEmitter) emitFunction(decl *FunctionDeclaration) (*IRFunctionDefinition, error) {
	sym, ok := e.ctx.Symbols.Get(decl.Name)
	if !ok {
		return nil, fmt.Errorf("missing symbol for function %v", decl.Name)
	}
	e.instructions = nil
	if err := e.emitBlock(decl.Body); err != nil {
		return nil, err
	}
	// Falling off the end of a function returns zero, which the
	// standard requires for main and keeps every path terminated.
	e.instructions = append(e.instructions, &IRReturn{Val: IRConstant{Value: ConstInt{Value: 0}}})
	return &IRFunctionDefinition{
		Name:   decl.Name,
		Global: sym.Attrs.(FunAttrs).Global,
		Params: decl.Params,
		Body:   e.instructions,
	}, nil
}

// makeTemporary allocates a fresh value of the given type and registers
// it so later passes can look up its width.
func (e *irEmitter) makeTemporary(t Type) IRVar {
	name := e.ctx.makeTemporary("tmp")
	e.ctx.Symbols.Set(name, &Symbol{Type: t, Attrs: LocalAttrs{}})
	return IRVar{Name: name}
}

func (e *irEmitter) append(instructions ...IRInstruction) {
	e.instructions = append(e.instructions, instructions...)
}

func (e *irEmitter) emitBlock(block *Block) error {
	for _, item := range block.Items {
		switch node := item.(type) {
		case *VariableDeclaration:
			// Static and extern locals are materialized from the
			// symbol table, not initialized at runtime.
			if node.StorageClass != StorageNone || node.Init == nil {
				continue
			}
			result, err := e.emitExp(node.Init)
			if err != nil {
				return err
			}
			e.append(&IRCopy{Src: result, Dst: IRVar{Name: node.Name}})
		case *FunctionDeclaration:
			continue
		case Statement:
			if err := e.emitStatement(node); err != nil {
				return err
			}
		default:
			return fmt.Errorf("cannot emit block item %T", item)
		}
	}
	return nil
}

func (e *irEmitter) emitStatement(stmt Statement) error {
	switch node := stmt.(type) {
	case *ReturnStmt:
		val, err := e.emitExp(node.Exp)
		if err != nil {
			return err
		}
		e.append(&IRReturn{Val: val})
		return nil
	case *ExpressionStmt:
		_, err := e.emitExp(node.Exp)
		return err
	case *IfStmt:
		return e.emitIf(node)
	case *CompoundStmt:
		return e.emitBlock(node.Block)
	case *BreakStmt:
		e.append(&IRJump{Target: "break_" + node.Label})
		return nil
	case *ContinueStmt:
		e.append(&IRJump{Target: "continue_" + node.Label})
		return nil
	case *WhileStmt:
		return e.emitWhile(node)
	case *DoWhileStmt:
		return e.emitDoWhile(node)
	case *ForStmt:
		return e.emitFor(node)
	case *NullStmt:
		return nil
	}
	return fmt.Errorf("cannot emit statement %T", stmt)
}

func (e *irEmitter) emitIf(node *IfStmt) error {
	cond, err := e.emitExp(node.Cond)
	if err != nil {
		return err
	}
	if node.Else == nil {
		end := e.ctx.makeLabel("end")
		e.append(&IRJumpIfZero{Cond: cond, Target: end})
		if err := e.emitStatement(node.Then); err != nil {
			return err
		}
		e.append(&IRLabel{Name: end})
		return nil
	}
	elseLabel := e.ctx.makeLabel("else")
	e.append(&IRJumpIfZero{Cond: cond, Target: elseLabel})
	if err := e.emitStatement(node.Then); err != nil {
		return err
	}
	end := e.ctx.makeLabel("end")
	e.append(&IRJump{Target: end}, &IRLabel{Name: elseLabel})
	if err := e.emitStatement(node.Else); err != nil {
		return err
	}
	e.append(&IRLabel{Name: end})
	return nil
}

func (e *irEmitter) emitWhile(node *WhileStmt) error {
	continueLabel := "continue_" + node.Label
	breakLabel := "break_" + node.Label
	e.append(&IRLabel{Name: continueLabel})
	cond, err := e.emitExp(node.Cond)
	if err != nil {
		return err
	}
	e.append(&IRJumpIfZero{Cond: cond, Target: breakLabel})
	if err := e.emitStatement(node.Body); err != nil {
		return err
	}
	e.append(&IRJump{Target: continueLabel}, &IRLabel{Name: breakLabel})
	return nil
}

func (e *irEmitter) emitDoWhile(node *DoWhileStmt) error {
	startLabel := "start_" + node.Label
	e.append(&IRLabel{Name: startLabel})
	if err := e.emitStatement(node.Body); err != nil {
		return err
	}
	e.append(&IRLabel{Name: "continue_" + node.Label})
	cond, err := e.emitExp(node.Cond)
	if err != nil {
		return err
	}
	e.append(&IRJumpIfNotZero{Cond: cond, Target: startLabel},
		&IRLabel{Name: "break_" + node.Label})
	return nil
}

func (e *irEmitter) emitFor(node *ForStmt) error {
	switch init := node.Init.(type) {
	case *InitDecl:
		if init.Decl.Init != nil {
			result, err := e.emitExp(init.Decl.Init)
			if err != nil {
				return err
			}
			e.append(&IRCopy{Src: result, Dst: IRVar{Name: init.Decl.Name}})
		}
	case *InitExp:
		if init.Exp != nil {
			if _, err := e.emitExp(init.Exp); err != nil {
				return err
			}
		}
	}
	startLabel := "start_" + node.Label
	breakLabel := "break_" + node.Label
	e.append(&IRLabel{Name: startLabel})
	if node.Cond != nil {
		cond, err := e.emitExp(node.Cond)
		if err != nil {
			return err
		}
		e.append(&IRJumpIfZero{Cond: cond, Target: breakLabel})
	}
	if err := e.emitStatement(node.Body); err != nil {
		return err
	}
	e.append(&IRLabel{Name: "continue_" + node.Label})
	if node.Post != nil {
		if _, err := e.emitExp(node.Post); err != nil {
			return err
		}
	}
	e.append(&IRJump{Target: startLabel}, &IRLabel{Name: breakLabel})
	return nil
}

func (e *irEmitter) emitExp(exp Exp) (IRVal, error) {
	switch node := exp.(type) {
	case *Constant:
		return IRConstant{Value: node.Value}, nil
	case *Var:
		return IRVar{Name: node.Name}, nil
	case *Cast:
		return e.emitCast(node)
	case *Unary:
		src, err := e.emitExp(node.Inner)
		if err != nil {
			return nil, err
		}
		dst := e.makeTemporary(node.Type)
		e.append(&IRUnary{Op: emitUnaryOperator(node.Op), Src: src, Dst: dst})
		return dst, nil
	case *Binary:
		if node.Op == And || node.Op == Or {
			return e.emitShortCircuit(node)
		}
		src1, err := e.emitExp(node.Left)
		if err != nil {
			return nil, err
		}
		src2, err := e.emitExp(node.Right)
		if err != nil {
			return nil, err
		}
		op, err := emitBinaryOperator(node.Op)
		if err != nil {
			return nil, err
		}
		dst := e.makeTemporary(node.Type)
		e.append(&IRBinary{Op: op, Src1: src1, Src2: src2, Dst: dst})
		return dst, nil
	case *Assignment:
		lhs, ok := node.Left.(*Var)
		if !ok {
			return nil, fmt.Errorf("invalid lvalue %T", node.Left)
		}
		result, err := e.emitExp(node.Right)
		if err != nil {
			return nil, err
		}
		dst := IRVar{Name: lhs.Name}
		e.append(&IRCopy{Src: result, Dst: dst})
		return dst, nil
	case *Conditional:
		return e.emitConditional(node)
	case *FunctionCall:
		var args []IRVal
		for _, arg := range node.Args {
			val, err := e.emitExp(arg)
			if err != nil {
				return nil, err
			}
			args = append(args, val)
		}
		dst := e.makeTemporary(node.Type)
		e.append(&IRFunCall{Name: node.Name, Args: args, Dst: dst})
		return dst, nil
	}
	return nil, fmt.Errorf("cannot emit expression %T", exp)
}

// emitCast picks the conversion instruction from the source and target
// widths: same width is a plain copy, widening sign- or zero-extends by
// the signedness of the source, narrowing truncates.
func (e *irEmitter) emitCast(node *Cast) (IRVal, error) {
	src, err := e.emitExp(node.Inner)
	if err != nil {
		return nil, err
	}
	innerType := node.Inner.ExpType()
	if typesEqual(node.Target, innerType) {
		return src, nil
	}
	dst := e.makeTemporary(node.Target)
	switch {
	case typeSize(node.Target) == typeSize(innerType):
		e.append(&IRCopy{Src: src, Dst: dst})
	case typeSize(node.Target) > typeSize(innerType):
		if isSigned(innerType) {
			e.append(&IRSignExtend{Src: src, Dst: dst})
		} else {
			e.append(&IRZeroExtend{Src: src, Dst: dst})
		}
	default:
		e.append(&IRTruncate{Src: src, Dst: dst})
	}
	return dst, nil
}

func (e *irEmitter) emitShortCircuit(node *Binary) (IRVal, error) {
	shortCircuit := e.ctx.makeLabel(map[BinaryOperator]string{And: "sc_and", Or: "sc_or"}[node.Op])
	v1, err := e.emitExp(node.Left)
	if err != nil {
		return nil, err
	}
	e.append(e.shortCircuitJump(node.Op, v1, shortCircuit))
	v2, err := e.emitExp(node.Right)
	if err != nil {
		return nil, err
	}
	e.append(e.shortCircuitJump(node.Op, v2, shortCircuit))
	// The fall-through path saw no short-circuiting operand: that is
	// true for && and false for ||.
	fallThrough, shortCircuited := int64(1), int64(0)
	if node.Op == Or {
		fallThrough, shortCircuited = 0, 1
	}
	dst := e.makeTemporary(IntType{})
	end := e.ctx.makeLabel("end")
	e.append(&IRCopy{Src: IRConstant{Value: ConstInt{Value: fallThrough}}, Dst: dst},
		&IRJump{Target: end},
		&IRLabel{Name: shortCircuit},
		&IRCopy{Src: IRConstant{Value: ConstInt{Value: shortCircuited}}, Dst: dst},
		&IRLabel{Name: end})
	return dst, nil
}

func (e *irEmitter) shortCircuitJump(op BinaryOperator, cond IRVal, target string) IRInstruction {
	if op == And {
		return &IRJumpIfZero{Cond: cond, Target: target}
	}
	return &IRJumpIfNotZero{Cond: cond, Target: target}
}

func (e *irEmitter) emitConditional(node *Conditional) (IRVal, error) {
	cond, err := e.emitExp(node.Cond)
	if err != nil {
		return nil, err
	}
	elseLabel := e.ctx.makeLabel("else")
	e.append(&IRJumpIfZero{Cond: cond, Target: elseLabel})
	thenVal, err := e.emitExp(node.Then)
	if err != nil {
		return nil, err
	}
	result := e.makeTemporary(node.Type)
	end := e.ctx.makeLabel("end")
	e.append(&IRCopy{Src: thenVal, Dst: result},
		&IRJump{Target: end},
		&IRLabel{Name: elseLabel})
	elseVal, err := e.emitExp(node.Else)
	if err != nil {
		return nil, err
	}
	e.append(&IRCopy{Src: elseVal, Dst: result}, &IRLabel{Name: end})
	return result, nil
}

func emitUnaryOperator(op UnaryOperator) IRUnaryOperator {
	switch op {
	case Complement:
		return IRComplement
	case Negate:
		return IRNegate
	default:
		return IRNot
	}
}

func emitBinaryOperator(op BinaryOperator) (IRBinaryOperator, error) {
	switch op {
	case Add:
		return IRAdd, nil
	case Subtract:
		return IRSubtract, nil
	case Multiply:
		return IRMultiply, nil
	case Divide:
		return IRDivide, nil
	case Remainder:
		return IRRemainder, nil
	case Equal:
		return IREqual, nil
	case NotEqual:
		return IRNotEqual, nil
	case LessThan:
		return IRLessThan, nil
	case LessOrEqual:
		return IRLessOrEqual, nil
	case GreaterThan:
		return IRGreaterThan, nil
	case GreaterOrEqual:
		return IRGreaterOrEqual, nil
	}
	return 0, fmt.Errorf("binary operator %v has no three-address form", op)
}
