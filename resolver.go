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

// identifier resolution renames every local to a program-unique name
// and enforces scoping and linkage rules. Identifiers with linkage
// (file-scope names and extern locals) keep their source spelling.

type resolverEntry struct {
	name             string
	fromCurrentScope bool
	hasLinkage       bool
}

type identifierMap map[string]resolverEntry

// enterScope clones the map for a nested scope; inherited entries stop
// counting as declared in the current scope.
func (m identifierMap) enterScope() identifierMap {
	inner := make(identifierMap, len(m))
	for name, entry := range m {
		entry.fromCurrentScope = false
		inner[name] = entry
	}
	return inner
}

type resolver struct {
	ctx *Context
}

func resolveProgram(ctx *Context, program *Program) (*Program, error) {
	r := &resolver{ctx: ctx}
	identifiers := identifierMap{}
	declarations := make([]Declaration, 0, len(program.Declarations))
	for _, decl := range program.Declarations {
		resolved, err := r.resolveFileScopeDeclaration(decl, identifiers)
		if err != nil {
			return nil, err
		}
		declarations = append(declarations, resolved)
	}
	return &Program{Declarations: declarations}, nil
}

func (r *resolver) resolveFileScopeDeclaration(decl Declaration, identifiers identifierMap) (Declaration, error) {
	switch d := decl.(type) {
	case *FunctionDeclaration:
		return r.resolveFunctionDeclaration(d, identifiers)
	case *VariableDeclaration:
		return r.resolveFileScopeVariableDeclaration(d, identifiers), nil
	}
	return nil, fmt.Errorf("cannot resolve declaration %T", decl)
}

func (r *resolver) resolveFunctionDeclaration(decl *FunctionDeclaration, identifiers identifierMap) (Declaration, error) {
	if prev, ok := identifiers[decl.Name]; ok && prev.fromCurrentScope && !prev.hasLinkage {
		return nil, fmt.Errorf("duplicate declaration of %v", decl.Name)
	}
	identifiers[decl.Name] = resolverEntry{
		name:             decl.Name,
		fromCurrentScope: true,
		hasLinkage:       true,
	}

	inner := identifiers.enterScope()
	params := make([]string, 0, len(decl.Params))
	for _, param := range decl.Params {
		resolved, err := r.resolveParam(param, inner)
		if err != nil {
			return nil, err
		}
		params = append(params, resolved)
	}
	var body *Block
	if decl.Body != nil {
		resolved, err := r.resolveBlock(decl.Body, inner)
		if err != nil {
			return nil, err
		}
		body = resolved
	}
	return &FunctionDeclaration{
		Name:         decl.Name,
		Params:       params,
		Body:         body,
		Type:         decl.Type,
		StorageClass: decl.StorageClass,
	}, nil
}

func (r *resolver) resolveParam(param string, identifiers identifierMap) (string, error) {
	if prev, ok := identifiers[param]; ok && prev.fromCurrentScope {
		return "", fmt.Errorf("duplicate declaration of parameter %v", param)
	}
	unique := r.ctx.makeTemporary(param)
	identifiers[param] = resolverEntry{name: unique, fromCurrentScope: true}
	return unique, nil
}

func (r *resolver) resolveFileScopeVariableDeclaration(decl *VariableDeclaration, identifiers identifierMap) Declaration {
	identifiers[decl.Name] = resolverEntry{
		name:             decl.Name,
		fromCurrentScope: true,
		hasLinkage:       true,
	}
	return decl
}

func (r *resolver) resolveLocalDeclaration(decl Declaration, identifiers identifierMap) (Declaration, error) {
	switch d := decl.(type) {
	case *FunctionDeclaration:
		if d.Body != nil {
			return nil, fmt.Errorf("local definition of function %v", d.Name)
		}
		if d.StorageClass == StorageStatic {
			return nil, fmt.Errorf("block scope declaration of function %v cannot be static", d.Name)
		}
		return r.resolveFunctionDeclaration(d, identifiers)
	case *VariableDeclaration:
		return r.resolveLocalVariableDeclaration(d, identifiers)
	}
	return nil, fmt.Errorf("cannot resolve declaration %T", decl)
}

func (r *resolver) resolveLocalVariableDeclaration(decl *VariableDeclaration, identifiers identifierMap) (Declaration, error) {
	if prev, ok := identifiers[decl.Name]; ok && prev.fromCurrentScope {
		if !(prev.hasLinkage && decl.StorageClass == StorageExtern) {
			return nil, fmt.Errorf("conflicting local declarations of %v", decl.Name)
		}
	}
	if decl.StorageClass == StorageExtern {
		identifiers[decl.Name] = resolverEntry{
			name:             decl.Name,
			fromCurrentScope: true,
			hasLinkage:       true,
		}
		return decl, nil
	}
	unique := r.ctx.makeTemporary(decl.Name)
	identifiers[decl.Name] = resolverEntry{name: unique, fromCurrentScope: true}
	var init Exp
	if decl.Init != nil {
		resolved, err := r.resolveExp(decl.Init, identifiers)
		if err != nil {
			return nil, err
		}
		init = resolved
	}
	return &VariableDeclaration{
		Name:         unique,
		Init:         init,
		Type:         decl.Type,
		StorageClass: decl.StorageClass,
	}, nil
}

func (r *resolver) resolveBlock(block *Block, identifiers identifierMap) (*Block, error) {
	items := make([]BlockItem, 0, len(block.Items))
	for _, item := range block.Items {
		var resolved BlockItem
		switch node := item.(type) {
		case Declaration:
			decl, err := r.resolveLocalDeclaration(node, identifiers)
			if err != nil {
				return nil, err
			}
			resolved = decl.(BlockItem)
		case Statement:
			stmt, err := r.resolveStatement(node, identifiers)
			if err != nil {
				return nil, err
			}
			resolved = stmt
		default:
			return nil, fmt.Errorf("cannot resolve block item %T", item)
		}
		items = append(items, resolved)
	}
	return &Block{Items: items}, nil
}

func (r *resolver) resolveForInit(init ForInit, identifiers identifierMap) (ForInit, error) {
	switch node := init.(type) {
	case *InitDecl:
		decl, err := r.resolveLocalVariableDeclaration(node.Decl, identifiers)
		if err != nil {
			return nil, err
		}
		return &InitDecl{Decl: decl.(*VariableDeclaration)}, nil
	case *InitExp:
		if node.Exp == nil {
			return &InitExp{}, nil
		}
		exp, err := r.resolveExp(node.Exp, identifiers)
		if err != nil {
			return nil, err
		}
		return &InitExp{Exp: exp}, nil
	}
	return nil, fmt.Errorf("cannot resolve for initializer %T", init)
}

func (r *resolver) resolveStatement(stmt Statement, identifiers identifierMap) (Statement, error) {
	switch node := stmt.(type) {
	case *ReturnStmt:
		exp, err := r.resolveExp(node.Exp, identifiers)
		if err != nil {
			return nil, err
		}
		return &ReturnStmt{Exp: exp}, nil
	case *ExpressionStmt:
		exp, err := r.resolveExp(node.Exp, identifiers)
		if err != nil {
			return nil, err
		}
		return &ExpressionStmt{Exp: exp}, nil
	case *IfStmt:
		cond, err := r.resolveExp(node.Cond, identifiers)
		if err != nil {
			return nil, err
		}
		then, err := r.resolveStatement(node.Then, identifiers)
		if err != nil {
			return nil, err
		}
		var elseStmt Statement
		if node.Else != nil {
			elseStmt, err = r.resolveStatement(node.Else, identifiers)
			if err != nil {
				return nil, err
			}
		}
		return &IfStmt{Cond: cond, Then: then, Else: elseStmt}, nil
	case *CompoundStmt:
		block, err := r.resolveBlock(node.Block, identifiers.enterScope())
		if err != nil {
			return nil, err
		}
		return &CompoundStmt{Block: block}, nil
	case *BreakStmt:
		return &BreakStmt{}, nil
	case *ContinueStmt:
		return &ContinueStmt{}, nil
	case *WhileStmt:
		cond, err := r.resolveExp(node.Cond, identifiers)
		if err != nil {
			return nil, err
		}
		body, err := r.resolveStatement(node.Body, identifiers)
		if err != nil {
			return nil, err
		}
		return &WhileStmt{Cond: cond, Body: body}, nil
	case *DoWhileStmt:
		body, err := r.resolveStatement(node.Body, identifiers)
		if err != nil {
			return nil, err
		}
		cond, err := r.resolveExp(node.Cond, identifiers)
		if err != nil {
			return nil, err
		}
		return &DoWhileStmt{Body: body, Cond: cond}, nil
	case *ForStmt:
		scope := identifiers.enterScope()
		init, err := r.resolveForInit(node.Init, scope)
		if err != nil {
			return nil, err
		}
		var cond, post Exp
		if node.Cond != nil {
			cond, err = r.resolveExp(node.Cond, scope)
			if err != nil {
				return nil, err
			}
		}
		if node.Post != nil {
			post, err = r.resolveExp(node.Post, scope)
			if err != nil {
				return nil, err
			}
		}
		body, err := r.resolveStatement(node.Body, scope)
		if err != nil {
			return nil, err
		}
		return &ForStmt{Init: init, Cond: cond, Post: post, Body: body}, nil
	case *NullStmt:
		return &NullStmt{}, nil
	}
	return nil, fmt.Errorf("cannot resolve statement %T", stmt)
}

func (r *resolver) resolveExp(exp Exp, identifiers identifierMap) (Exp, error) {
	switch node := exp.(type) {
	case *Constant:
		return node, nil
	case *Var:
		entry, ok := identifiers[node.Name]
		if !ok {
			return nil, fmt.Errorf("undeclared variable %v", node.Name)
		}
		return &Var{Name: entry.name}, nil
	case *Cast:
		inner, err := r.resolveExp(node.Inner, identifiers)
		if err != nil {
			return nil, err
		}
		return &Cast{Target: node.Target, Inner: inner}, nil
	case *Unary:
		inner, err := r.resolveExp(node.Inner, identifiers)
		if err != nil {
			return nil, err
		}
		return &Unary{Op: node.Op, Inner: inner}, nil
	case *Binary:
		left, err := r.resolveExp(node.Left, identifiers)
		if err != nil {
			return nil, err
		}
		right, err := r.resolveExp(node.Right, identifiers)
		if err != nil {
			return nil, err
		}
		return &Binary{Op: node.Op, Left: left, Right: right}, nil
	case *Assignment:
		if _, ok := node.Left.(*Var); !ok {
			return nil, fmt.Errorf("invalid lvalue %T", node.Left)
		}
		left, err := r.resolveExp(node.Left, identifiers)
		if err != nil {
			return nil, err
		}
		right, err := r.resolveExp(node.Right, identifiers)
		if err != nil {
			return nil, err
		}
		return &Assignment{Left: left, Right: right}, nil
	case *Conditional:
		cond, err := r.resolveExp(node.Cond, identifiers)
		if err != nil {
			return nil, err
		}
		then, err := r.resolveExp(node.Then, identifiers)
		if err != nil {
			return nil, err
		}
		elseExp, err := r.resolveExp(node.Else, identifiers)
		if err != nil {
			return nil, err
		}
		return &Conditional{Cond: cond, Then: then, Else: elseExp}, nil
	case *FunctionCall:
		entry, ok := identifiers[node.Name]
		if !ok {
			return nil, fmt.Errorf("undeclared function %v", node.Name)
		}
		args := make([]Exp, 0, len(node.Args))
		for _, arg := range node.Args {
			resolved, err := r.resolveExp(arg, identifiers)
			if err != nil {
				return nil, err
			}
			args = append(args, resolved)
		}
		return &FunctionCall{Name: entry.name, Args: args}, nil
	}
	return nil, fmt.Errorf("cannot resolve expression %T", exp)
}
