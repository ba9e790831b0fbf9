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

// The type checker annotates every expression with its type, inserts
// explicit casts for the implicit conversions of usual arithmetic, and
// fills the symbol table with linkage, definedness and initializers.

type typeChecker struct {
	ctx *Context
}

func typecheckProgram(ctx *Context, program *Program) (*Program, error) {
	tc := &typeChecker{ctx: ctx}
	declarations := make([]Declaration, 0, len(program.Declarations))
	for _, decl := range program.Declarations {
		var checked Declaration
		var err error
		switch d := decl.(type) {
		case *FunctionDeclaration:
			checked, err = tc.typecheckFunctionDeclaration(d)
		case *VariableDeclaration:
			checked, err = tc.typecheckFileScopeVariableDeclaration(d)
		default:
			err = fmt.Errorf("cannot typecheck declaration %T", decl)
		}
		if err != nil {
			return nil, err
		}
		declarations = append(declarations, checked)
	}
	return &Program{Declarations: declarations}, nil
}

// commonType implements the usual arithmetic conversions for the
// supported integral types: identical types stay, otherwise the wider
// type wins, and at equal width the unsigned one.
func commonType(a, b Type) Type {
	if typesEqual(a, b) {
		return a
	}
	if typeSize(a) == typeSize(b) {
		if isSigned(a) {
			return b
		}
		return a
	}
	if typeSize(a) > typeSize(b) {
		return a
	}
	return b
}

// convertTo wraps exp in a cast to target unless it already has that
// type.
func convertTo(exp Exp, target Type) Exp {
	if typesEqual(exp.ExpType(), target) {
		return exp
	}
	return &Cast{Target: target, Inner: exp, Type: target}
}

// constBits widens a literal to its 64-bit two's-complement pattern.
func constBits(c Const) uint64 {
	switch v := c.(type) {
	case ConstInt:
		return uint64(v.Value)
	case ConstLong:
		return uint64(v.Value)
	case ConstUInt:
		return v.Value
	case ConstULong:
		return v.Value
	}
	panic("unknown constant")
}

// staticInitFor converts a literal to a static initializer of the
// declared type, reducing modulo the target width into its range.
func staticInitFor(c Const, target Type) StaticInit {
	bits := constBits(c)
	switch target.(type) {
	case IntType:
		return IntInit{Value: int32(bits)}
	case LongType:
		return LongInit{Value: int64(bits)}
	case UIntType:
		return UIntInit{Value: uint32(bits)}
	case ULongType:
		return ULongInit{Value: bits}
	}
	panic("static initializer for non-integral type")
}

func (tc *typeChecker) typecheckFunctionDeclaration(decl *FunctionDeclaration) (*FunctionDeclaration, error) {
	funType := decl.Type
	hasBody := decl.Body != nil
	alreadyDefined := false
	global := decl.StorageClass != StorageStatic

	if old, ok := tc.ctx.Symbols.Get(decl.Name); ok {
		if !typesEqual(old.Type, funType) {
			return nil, fmt.Errorf("incompatible declarations of %v", decl.Name)
		}
		attrs := old.Attrs.(FunAttrs)
		alreadyDefined = attrs.Defined
		if alreadyDefined && hasBody {
			return nil, fmt.Errorf("function %v is defined more than once", decl.Name)
		}
		if attrs.Global && decl.StorageClass == StorageStatic {
			return nil, fmt.Errorf("static declaration of %v follows non-static", decl.Name)
		}
		global = attrs.Global
	}
	tc.ctx.Symbols.Set(decl.Name, &Symbol{
		Type:  funType,
		Attrs: FunAttrs{Defined: alreadyDefined || hasBody, Global: global},
	})

	var body *Block
	if hasBody {
		for i, param := range decl.Params {
			tc.ctx.Symbols.Set(param, &Symbol{Type: funType.Params[i], Attrs: LocalAttrs{}})
		}
		checked, err := tc.typecheckBlock(decl.Body, funType.Ret)
		if err != nil {
			return nil, err
		}
		body = checked
	}
	return &FunctionDeclaration{
		Name:         decl.Name,
		Params:       decl.Params,
		Body:         body,
		Type:         funType,
		StorageClass: decl.StorageClass,
	}, nil
}

func (tc *typeChecker) typecheckFileScopeVariableDeclaration(decl *VariableDeclaration) (*VariableDeclaration, error) {
	var initial InitialValue
	switch init := decl.Init.(type) {
	case nil:
		if decl.StorageClass == StorageExtern {
			initial = NoInitializer{}
		} else {
			initial = Tentative{}
		}
	case *Constant:
		initial = Initial{Value: staticInitFor(init.Value, decl.Type)}
	default:
		return nil, fmt.Errorf("non-constant initializer for %v", decl.Name)
	}
	global := decl.StorageClass != StorageStatic

	if old, ok := tc.ctx.Symbols.Get(decl.Name); ok {
		if !typesEqual(old.Type, decl.Type) {
			return nil, fmt.Errorf("incompatible declarations of %v", decl.Name)
		}
		attrs := old.Attrs.(StaticAttrs)
		if decl.StorageClass == StorageExtern {
			global = attrs.Global
		} else if attrs.Global != global {
			return nil, fmt.Errorf("conflicting linkage for variable %v", decl.Name)
		}
		if oldInit, ok := attrs.Init.(Initial); ok {
			if _, ok := initial.(Initial); ok {
				return nil, fmt.Errorf("conflicting initializers for %v", decl.Name)
			}
			initial = oldInit
		} else if _, ok := initial.(Initial); !ok {
			if _, tentative := attrs.Init.(Tentative); tentative {
				initial = Tentative{}
			}
		}
	}
	tc.ctx.Symbols.Set(decl.Name, &Symbol{
		Type:  decl.Type,
		Attrs: StaticAttrs{Init: initial, Global: global},
	})
	return &VariableDeclaration{
		Name:         decl.Name,
		Init:         tc.annotateConstant(decl.Init),
		Type:         decl.Type,
		StorageClass: decl.StorageClass,
	}, nil
}

// annotateConstant types a literal initializer in place of full
// expression checking; the value itself lives in the symbol table.
func (tc *typeChecker) annotateConstant(init Exp) Exp {
	c, ok := init.(*Constant)
	if !ok {
		return init
	}
	return &Constant{Value: c.Value, Type: c.Value.ConstType()}
}

func (tc *typeChecker) typecheckLocalDeclaration(decl Declaration) (Declaration, error) {
	switch d := decl.(type) {
	case *FunctionDeclaration:
		return tc.typecheckFunctionDeclaration(d)
	case *VariableDeclaration:
		return tc.typecheckLocalVariableDeclaration(d)
	}
	return nil, fmt.Errorf("cannot typecheck declaration %T", decl)
}

func (tc *typeChecker) typecheckLocalVariableDeclaration(decl *VariableDeclaration) (*VariableDeclaration, error) {
	switch decl.StorageClass {
	case StorageExtern:
		if decl.Init != nil {
			return nil, fmt.Errorf("initializer on local extern variable %v", decl.Name)
		}
		if old, ok := tc.ctx.Symbols.Get(decl.Name); ok {
			if !typesEqual(old.Type, decl.Type) {
				return nil, fmt.Errorf("incompatible declarations of %v", decl.Name)
			}
		} else {
			tc.ctx.Symbols.Set(decl.Name, &Symbol{
				Type:  decl.Type,
				Attrs: StaticAttrs{Init: NoInitializer{}, Global: true},
			})
		}
		return decl, nil
	case StorageStatic:
		var initial StaticInit
		switch init := decl.Init.(type) {
		case nil:
			initial = zeroInitFor(decl.Type)
		case *Constant:
			initial = staticInitFor(init.Value, decl.Type)
		default:
			return nil, fmt.Errorf("non-constant initializer on local static variable %v", decl.Name)
		}
		tc.ctx.Symbols.Set(decl.Name, &Symbol{
			Type:  decl.Type,
			Attrs: StaticAttrs{Init: Initial{Value: initial}, Global: false},
		})
		return &VariableDeclaration{
			Name:         decl.Name,
			Init:         tc.annotateConstant(decl.Init),
			Type:         decl.Type,
			StorageClass: decl.StorageClass,
		}, nil
	default:
		tc.ctx.Symbols.Set(decl.Name, &Symbol{Type: decl.Type, Attrs: LocalAttrs{}})
		var init Exp
		if decl.Init != nil {
			checked, err := tc.typecheckExp(decl.Init)
			if err != nil {
				return nil, err
			}
			init = convertTo(checked, decl.Type)
		}
		return &VariableDeclaration{
			Name:         decl.Name,
			Init:         init,
			Type:         decl.Type,
			StorageClass: decl.StorageClass,
		}, nil
	}
}

func (tc *typeChecker) typecheckBlock(block *Block, retType Type) (*Block, error) {
	items := make([]BlockItem, 0, len(block.Items))
	for _, item := range block.Items {
		var checked BlockItem
		switch node := item.(type) {
		case Declaration:
			decl, err := tc.typecheckLocalDeclaration(node)
			if err != nil {
				return nil, err
			}
			checked = decl.(BlockItem)
		case Statement:
			stmt, err := tc.typecheckStatement(node, retType)
			if err != nil {
				return nil, err
			}
			checked = stmt
		default:
			return nil, fmt.Errorf("cannot typecheck block item %T", item)
		}
		items = append(items, checked)
	}
	return &Block{Items: items}, nil
}

func (tc *typeChecker) typecheckForInit(init ForInit) (ForInit, error) {
	switch node := init.(type) {
	case *InitDecl:
		if node.Decl.StorageClass != StorageNone {
			return nil, fmt.Errorf("storage class on declaration of %v in for loop header", node.Decl.Name)
		}
		decl, err := tc.typecheckLocalVariableDeclaration(node.Decl)
		if err != nil {
			return nil, err
		}
		return &InitDecl{Decl: decl}, nil
	case *InitExp:
		if node.Exp == nil {
			return &InitExp{}, nil
		}
		exp, err := tc.typecheckExp(node.Exp)
		if err != nil {
			return nil, err
		}
		return &InitExp{Exp: exp}, nil
	}
	return nil, fmt.Errorf("cannot typecheck for initializer %T", init)
}

func (tc *typeChecker) typecheckStatement(stmt Statement, retType Type) (Statement, error) {
	switch node := stmt.(type) {
	case *ReturnStmt:
		exp, err := tc.typecheckExp(node.Exp)
		if err != nil {
			return nil, err
		}
		return &ReturnStmt{Exp: convertTo(exp, retType)}, nil
	case *ExpressionStmt:
		exp, err := tc.typecheckExp(node.Exp)
		if err != nil {
			return nil, err
		}
		return &ExpressionStmt{Exp: exp}, nil
	case *IfStmt:
		cond, err := tc.typecheckExp(node.Cond)
		if err != nil {
			return nil, err
		}
		then, err := tc.typecheckStatement(node.Then, retType)
		if err != nil {
			return nil, err
		}
		var elseStmt Statement
		if node.Else != nil {
			elseStmt, err = tc.typecheckStatement(node.Else, retType)
			if err != nil {
				return nil, err
			}
		}
		return &IfStmt{Cond: cond, Then: then, Else: elseStmt}, nil
	case *CompoundStmt:
		block, err := tc.typecheckBlock(node.Block, retType)
		if err != nil {
			return nil, err
		}
		return &CompoundStmt{Block: block}, nil
	case *BreakStmt, *ContinueStmt, *NullStmt:
		return stmt, nil
	case *WhileStmt:
		cond, err := tc.typecheckExp(node.Cond)
		if err != nil {
			return nil, err
		}
		body, err := tc.typecheckStatement(node.Body, retType)
		if err != nil {
			return nil, err
		}
		return &WhileStmt{Cond: cond, Body: body, Label: node.Label}, nil
	case *DoWhileStmt:
		body, err := tc.typecheckStatement(node.Body, retType)
		if err != nil {
			return nil, err
		}
		cond, err := tc.typecheckExp(node.Cond)
		if err != nil {
			return nil, err
		}
		return &DoWhileStmt{Body: body, Cond: cond, Label: node.Label}, nil
	case *ForStmt:
		init, err := tc.typecheckForInit(node.Init)
		if err != nil {
			return nil, err
		}
		var cond, post Exp
		if node.Cond != nil {
			cond, err = tc.typecheckExp(node.Cond)
			if err != nil {
				return nil, err
			}
		}
		if node.Post != nil {
			post, err = tc.typecheckExp(node.Post)
			if err != nil {
				return nil, err
			}
		}
		body, err := tc.typecheckStatement(node.Body, retType)
		if err != nil {
			return nil, err
		}
		return &ForStmt{Init: init, Cond: cond, Post: post, Body: body, Label: node.Label}, nil
	}
	return nil, fmt.Errorf("cannot typecheck statement %T", stmt)
}

func (tc *typeChecker) typecheckExp(exp Exp) (Exp, error) {
	switch node := exp.(type) {
	case *Constant:
		return &Constant{Value: node.Value, Type: node.Value.ConstType()}, nil
	case *Var:
		sym, ok := tc.ctx.Symbols.Get(node.Name)
		if !ok {
			return nil, fmt.Errorf("undeclared variable %v", node.Name)
		}
		if _, isFun := sym.Type.(*FunType); isFun {
			return nil, fmt.Errorf("function name %v used as variable", node.Name)
		}
		return &Var{Name: node.Name, Type: sym.Type}, nil
	case *Cast:
		inner, err := tc.typecheckExp(node.Inner)
		if err != nil {
			return nil, err
		}
		return &Cast{Target: node.Target, Inner: inner, Type: node.Target}, nil
	case *Unary:
		inner, err := tc.typecheckExp(node.Inner)
		if err != nil {
			return nil, err
		}
		resultType := inner.ExpType()
		if node.Op == Not {
			resultType = IntType{}
		}
		return &Unary{Op: node.Op, Inner: inner, Type: resultType}, nil
	case *Binary:
		return tc.typecheckBinary(node)
	case *Assignment:
		left, err := tc.typecheckExp(node.Left)
		if err != nil {
			return nil, err
		}
		right, err := tc.typecheckExp(node.Right)
		if err != nil {
			return nil, err
		}
		leftType := left.ExpType()
		return &Assignment{Left: left, Right: convertTo(right, leftType), Type: leftType}, nil
	case *Conditional:
		cond, err := tc.typecheckExp(node.Cond)
		if err != nil {
			return nil, err
		}
		then, err := tc.typecheckExp(node.Then)
		if err != nil {
			return nil, err
		}
		elseExp, err := tc.typecheckExp(node.Else)
		if err != nil {
			return nil, err
		}
		resultType := commonType(then.ExpType(), elseExp.ExpType())
		return &Conditional{
			Cond: cond,
			Then: convertTo(then, resultType),
			Else: convertTo(elseExp, resultType),
			Type: resultType,
		}, nil
	case *FunctionCall:
		sym, ok := tc.ctx.Symbols.Get(node.Name)
		if !ok {
			return nil, fmt.Errorf("undeclared function %v", node.Name)
		}
		funType, isFun := sym.Type.(*FunType)
		if !isFun {
			return nil, fmt.Errorf("variable %v used as function name", node.Name)
		}
		if len(funType.Params) != len(node.Args) {
			return nil, fmt.Errorf("function %v called with %d arguments, expected %d",
				node.Name, len(node.Args), len(funType.Params))
		}
		args := make([]Exp, 0, len(node.Args))
		for i, arg := range node.Args {
			checked, err := tc.typecheckExp(arg)
			if err != nil {
				return nil, err
			}
			args = append(args, convertTo(checked, funType.Params[i]))
		}
		return &FunctionCall{Name: node.Name, Args: args, Type: funType.Ret}, nil
	}
	return nil, fmt.Errorf("cannot typecheck expression %T", exp)
}

func (tc *typeChecker) typecheckBinary(node *Binary) (Exp, error) {
	left, err := tc.typecheckExp(node.Left)
	if err != nil {
		return nil, err
	}
	right, err := tc.typecheckExp(node.Right)
	if err != nil {
		return nil, err
	}
	if node.Op == And || node.Op == Or {
		return &Binary{Op: node.Op, Left: left, Right: right, Type: IntType{}}, nil
	}
	common := commonType(left.ExpType(), right.ExpType())
	left = convertTo(left, common)
	right = convertTo(right, common)
	resultType := common
	if node.Op.isRelational() {
		resultType = IntType{}
	}
	return &Binary{Op: node.Op, Left: left, Right: right, Type: resultType}, nil
}

func (op BinaryOperator) isRelational() bool {
	switch op {
	case Equal, NotEqual, LessThan, LessOrEqual, GreaterThan, GreaterOrEqual:
		return true
	}
	return false
}
