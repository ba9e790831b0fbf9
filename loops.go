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

// Loop labeling attaches a fresh label to each loop and copies it onto
// every break and continue inside; a break or continue with no
// enclosing loop is an error.

type loopLabeler struct {
	ctx *Context
}

func labelProgram(ctx *Context, program *Program) (*Program, error) {
	l := &loopLabeler{ctx: ctx}
	declarations := make([]Declaration, 0, len(program.Declarations))
	for _, decl := range program.Declarations {
		if funDecl, ok := decl.(*FunctionDeclaration); ok {
			labeled, err := l.labelFunctionDeclaration(funDecl)
			if err != nil {
				return nil, err
			}
			declarations = append(declarations, labeled)
		} else {
			declarations = append(declarations, decl)
		}
	}
	return &Program{Declarations: declarations}, nil
}

func (l *loopLabeler) labelFunctionDeclaration(decl *FunctionDeclaration) (*FunctionDeclaration, error) {
	var body *Block
	if decl.Body != nil {
		labeled, err := l.labelBlock(decl.Body, "")
		if err != nil {
			return nil, err
		}
		body = labeled
	}
	return &FunctionDeclaration{
		Name:         decl.Name,
		Params:       decl.Params,
		Body:         body,
		Type:         decl.Type,
		StorageClass: decl.StorageClass,
	}, nil
}

func (l *loopLabeler) labelBlock(block *Block, current string) (*Block, error) {
	items := make([]BlockItem, 0, len(block.Items))
	for _, item := range block.Items {
		if stmt, ok := item.(Statement); ok {
			labeled, err := l.labelStatement(stmt, current)
			if err != nil {
				return nil, err
			}
			items = append(items, labeled)
		} else {
			items = append(items, item)
		}
	}
	return &Block{Items: items}, nil
}

func (l *loopLabeler) labelStatement(stmt Statement, current string) (Statement, error) {
	switch node := stmt.(type) {
	case *BreakStmt:
		if current == "" {
			return nil, fmt.Errorf("break statement outside loop")
		}
		return &BreakStmt{Label: current}, nil
	case *ContinueStmt:
		if current == "" {
			return nil, fmt.Errorf("continue statement outside loop")
		}
		return &ContinueStmt{Label: current}, nil
	case *IfStmt:
		then, err := l.labelStatement(node.Then, current)
		if err != nil {
			return nil, err
		}
		var elseStmt Statement
		if node.Else != nil {
			elseStmt, err = l.labelStatement(node.Else, current)
			if err != nil {
				return nil, err
			}
		}
		return &IfStmt{Cond: node.Cond, Then: then, Else: elseStmt}, nil
	case *CompoundStmt:
		block, err := l.labelBlock(node.Block, current)
		if err != nil {
			return nil, err
		}
		return &CompoundStmt{Block: block}, nil
	case *WhileStmt:
		label := l.ctx.makeLabel("loop")
		body, err := l.labelStatement(node.Body, label)
		if err != nil {
			return nil, err
		}
		return &WhileStmt{Cond: node.Cond, Body: body, Label: label}, nil
	case *DoWhileStmt:
		label := l.ctx.makeLabel("loop")
		body, err := l.labelStatement(node.Body, label)
		if err != nil {
			return nil, err
		}
		return &DoWhileStmt{Body: body, Cond: node.Cond, Label: label}, nil
	case *ForStmt:
		label := l.ctx.makeLabel("loop")
		body, err := l.labelStatement(node.Body, label)
		if err != nil {
			return nil, err
		}
		return &ForStmt{Init: node.Init, Cond: node.Cond, Post: node.Post, Body: body, Label: label}, nil
	default:
		return stmt, nil
	}
}
