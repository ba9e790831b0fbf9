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
	"strconv"

	"github.com/samber/lo"
)

// precedence drives the expression parser. Binding grows upward;
// left-associative operators recurse at precedence+1, right-associative
// ones (assignment, ternary) at the same precedence.
var precedence = map[TokenKind]int{
	TokAsterisk: 50,
	TokSlash:    50,
	TokPercent:  50,

	TokPlus:   45,
	TokHyphen: 45,

	TokLess:         35,
	TokLessEqual:    35,
	TokGreater:      35,
	TokGreaterEqual: 35,

	TokEqualEqual: 30,
	TokNotEqual:   30,

	TokAmpAmp:   10,
	TokPipePipe: 5,

	TokQuestion: 3,
	TokEqual:    1,
}

type parser struct {
	tokens []Token
	pos    int
}

// parse builds the C-AST for one translation unit and fails on the
// first token that does not fit the grammar.
func parse(tokens []Token) (*Program, error) {
	p := &parser{tokens: tokens}
	var declarations []Declaration
	for p.pos < len(p.tokens) {
		decl, err := p.parseDeclaration()
		if err != nil {
			return nil, err
		}
		declarations = append(declarations, decl)
	}
	return &Program{Declarations: declarations}, nil
}

const tokEOF = TokenKind(-1)

func (p *parser) peek() Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return Token{Kind: tokEOF}
}

func (p *parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *parser) remaining() int {
	return len(p.tokens) - p.pos
}

func (p *parser) expect(expected ...TokenKind) (Token, error) {
	tok := p.advance()
	if tok.Kind == tokEOF {
		return tok, fmt.Errorf("expected %v but reached the end of the input", expected)
	}
	if !lo.Contains(expected, tok.Kind) {
		return tok, fmt.Errorf("expected %v but found %v with %d tokens left", expected, tok.Kind, p.remaining())
	}
	return tok, nil
}

func isTypeSpecifier(kind TokenKind) bool {
	switch kind {
	case TokInt, TokLong, TokSigned, TokUnsigned:
		return true
	}
	return false
}

func isSpecifier(kind TokenKind) bool {
	return isTypeSpecifier(kind) || kind == TokStatic || kind == TokExtern
}

// parseTypeSpecifiers pools one or more type specifier keywords, in any
// order, into a concrete type.
func (p *parser) parseTypeSpecifiers() (Type, error) {
	var specs []TokenKind
	for isTypeSpecifier(p.peek().Kind) {
		specs = append(specs, p.advance().Kind)
	}
	return resolveTypeSpecifiers(specs, p.remaining())
}

func resolveTypeSpecifiers(specs []TokenKind, remaining int) (Type, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("expected a type specifier with %d tokens left", remaining)
	}
	seen := map[TokenKind]bool{}
	for _, spec := range specs {
		if seen[spec] {
			return nil, fmt.Errorf("duplicate type specifier %v", spec)
		}
		seen[spec] = true
	}
	if seen[TokSigned] && seen[TokUnsigned] {
		return nil, fmt.Errorf("both signed and unsigned in type specifiers")
	}
	switch {
	case seen[TokUnsigned] && seen[TokLong]:
		return ULongType{}, nil
	case seen[TokUnsigned]:
		return UIntType{}, nil
	case seen[TokLong]:
		return LongType{}, nil
	default:
		return IntType{}, nil
	}
}

// parseSpecifiers pools type and storage-class specifiers, which may be
// interleaved in any order.
func (p *parser) parseSpecifiers() (Type, StorageClass, error) {
	var typeSpecs []TokenKind
	var storageSpecs []TokenKind
	for isSpecifier(p.peek().Kind) {
		tok := p.advance()
		if isTypeSpecifier(tok.Kind) {
			typeSpecs = append(typeSpecs, tok.Kind)
		} else {
			storageSpecs = append(storageSpecs, tok.Kind)
		}
	}
	if len(storageSpecs) > 1 {
		return nil, StorageNone, fmt.Errorf("more than one storage class in %v", storageSpecs)
	}
	typ, err := resolveTypeSpecifiers(typeSpecs, p.remaining())
	if err != nil {
		return nil, StorageNone, err
	}
	storage := StorageNone
	if len(storageSpecs) == 1 {
		if storageSpecs[0] == TokStatic {
			storage = StorageStatic
		} else {
			storage = StorageExtern
		}
	}
	return typ, storage, nil
}

// parseDeclaration handles both function and variable declarations: the
// token after the declared name decides which one it is.
func (p *parser) parseDeclaration() (Declaration, error) {
	baseType, storage, err := p.parseSpecifiers()
	if err != nil {
		return nil, err
	}
	name, err := p.expect(TokIdentifier)
	if err != nil {
		return nil, err
	}
	if p.peek().Kind == TokOpenParen {
		return p.parseFunctionDeclaration(name.Value, baseType, storage)
	}
	return p.parseVariableDeclaration(name.Value, baseType, storage)
}

func (p *parser) parseFunctionDeclaration(name string, retType Type, storage StorageClass) (Declaration, error) {
	if _, err := p.expect(TokOpenParen); err != nil {
		return nil, err
	}
	var params []string
	var paramTypes []Type
	if p.peek().Kind == TokVoid {
		p.advance()
	} else {
		for {
			paramType, err := p.parseTypeSpecifiers()
			if err != nil {
				return nil, err
			}
			paramName, err := p.expect(TokIdentifier)
			if err != nil {
				return nil, err
			}
			params = append(params, paramName.Value)
			paramTypes = append(paramTypes, paramType)
			if p.peek().Kind != TokComma {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(TokCloseParen); err != nil {
		return nil, err
	}
	var body *Block
	if p.peek().Kind == TokOpenBrace {
		block, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		body = block
	} else if _, err := p.expect(TokSemicolon); err != nil {
		return nil, err
	}
	return &FunctionDeclaration{
		Name:         name,
		Params:       params,
		Body:         body,
		Type:         &FunType{Params: paramTypes, Ret: retType},
		StorageClass: storage,
	}, nil
}

func (p *parser) parseVariableDeclaration(name string, varType Type, storage StorageClass) (Declaration, error) {
	var init Exp
	if p.peek().Kind == TokEqual {
		p.advance()
		exp, err := p.parseExp(0)
		if err != nil {
			return nil, err
		}
		init = exp
	}
	if _, err := p.expect(TokSemicolon); err != nil {
		return nil, err
	}
	return &VariableDeclaration{Name: name, Init: init, Type: varType, StorageClass: storage}, nil
}

func (p *parser) parseBlock() (*Block, error) {
	if _, err := p.expect(TokOpenBrace); err != nil {
		return nil, err
	}
	var items []BlockItem
	for p.peek().Kind != TokCloseBrace {
		if p.peek().Kind == tokEOF {
			return nil, fmt.Errorf("expected %v but reached the end of the input", TokCloseBrace)
		}
		item, err := p.parseBlockItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	p.advance()
	return &Block{Items: items}, nil
}

func (p *parser) parseBlockItem() (BlockItem, error) {
	if isSpecifier(p.peek().Kind) {
		decl, err := p.parseDeclaration()
		if err != nil {
			return nil, err
		}
		return decl.(BlockItem), nil
	}
	return p.parseStatement()
}

func (p *parser) parseStatement() (Statement, error) {
	switch p.peek().Kind {
	case TokReturn:
		p.advance()
		exp, err := p.parseExp(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokSemicolon); err != nil {
			return nil, err
		}
		return &ReturnStmt{Exp: exp}, nil
	case TokSemicolon:
		p.advance()
		return &NullStmt{}, nil
	case TokIf:
		return p.parseIf()
	case TokOpenBrace:
		block, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		return &CompoundStmt{Block: block}, nil
	case TokBreak:
		p.advance()
		if _, err := p.expect(TokSemicolon); err != nil {
			return nil, err
		}
		return &BreakStmt{}, nil
	case TokContinue:
		p.advance()
		if _, err := p.expect(TokSemicolon); err != nil {
			return nil, err
		}
		return &ContinueStmt{}, nil
	case TokWhile:
		return p.parseWhile()
	case TokDo:
		return p.parseDoWhile()
	case TokFor:
		return p.parseFor()
	default:
		exp, err := p.parseExp(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokSemicolon); err != nil {
			return nil, err
		}
		return &ExpressionStmt{Exp: exp}, nil
	}
}

func (p *parser) parseIf() (Statement, error) {
	p.advance()
	if _, err := p.expect(TokOpenParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExp(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokCloseParen); err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	var elseStmt Statement
	if p.peek().Kind == TokElse {
		p.advance()
		elseStmt, err = p.parseStatement()
		if err != nil {
			return nil, err
		}
	}
	return &IfStmt{Cond: cond, Then: then, Else: elseStmt}, nil
}

func (p *parser) parseWhile() (Statement, error) {
	p.advance()
	if _, err := p.expect(TokOpenParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExp(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokCloseParen); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{Cond: cond, Body: body}, nil
}

func (p *parser) parseDoWhile() (Statement, error) {
	p.advance()
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokWhile); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokOpenParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExp(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokCloseParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokSemicolon); err != nil {
		return nil, err
	}
	return &DoWhileStmt{Body: body, Cond: cond}, nil
}

func (p *parser) parseFor() (Statement, error) {
	p.advance()
	if _, err := p.expect(TokOpenParen); err != nil {
		return nil, err
	}
	init, err := p.parseForInit()
	if err != nil {
		return nil, err
	}
	var cond Exp
	if p.peek().Kind != TokSemicolon {
		cond, err = p.parseExp(0)
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TokSemicolon); err != nil {
		return nil, err
	}
	var post Exp
	if p.peek().Kind != TokCloseParen {
		post, err = p.parseExp(0)
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TokCloseParen); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &ForStmt{Init: init, Cond: cond, Post: post, Body: body}, nil
}

// parseForInit consumes the first clause of a for header including its
// terminating semicolon.
func (p *parser) parseForInit() (ForInit, error) {
	if isSpecifier(p.peek().Kind) {
		decl, err := p.parseDeclaration()
		if err != nil {
			return nil, err
		}
		varDecl, ok := decl.(*VariableDeclaration)
		if !ok {
			return nil, fmt.Errorf("function declaration in for loop header")
		}
		return &InitDecl{Decl: varDecl}, nil
	}
	if p.peek().Kind == TokSemicolon {
		p.advance()
		return &InitExp{}, nil
	}
	exp, err := p.parseExp(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokSemicolon); err != nil {
		return nil, err
	}
	return &InitExp{Exp: exp}, nil
}

// parseExp is the precedence-climbing loop over binary operators,
// assignment and the conditional operator.
func (p *parser) parseExp(minPrec int) (Exp, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		next := p.peek()
		prec, isBinary := precedence[next.Kind]
		if !isBinary || prec < minPrec {
			return left, nil
		}
		switch next.Kind {
		case TokEqual:
			p.advance()
			right, err := p.parseExp(prec)
			if err != nil {
				return nil, err
			}
			left = &Assignment{Left: left, Right: right}
		case TokQuestion:
			middle, err := p.parseConditionalMiddle()
			if err != nil {
				return nil, err
			}
			right, err := p.parseExp(prec)
			if err != nil {
				return nil, err
			}
			left = &Conditional{Cond: left, Then: middle, Else: right}
		default:
			op, err := p.parseBinop()
			if err != nil {
				return nil, err
			}
			right, err := p.parseExp(prec + 1)
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: op, Left: left, Right: right}
		}
	}
}

// parseConditionalMiddle parses "? exp :". The expression between the
// operators binds as if parenthesized.
func (p *parser) parseConditionalMiddle() (Exp, error) {
	if _, err := p.expect(TokQuestion); err != nil {
		return nil, err
	}
	exp, err := p.parseExp(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokColon); err != nil {
		return nil, err
	}
	return exp, nil
}

func (p *parser) parseBinop() (BinaryOperator, error) {
	tok := p.advance()
	switch tok.Kind {
	case TokAsterisk:
		return Multiply, nil
	case TokSlash:
		return Divide, nil
	case TokPercent:
		return Remainder, nil
	case TokPlus:
		return Add, nil
	case TokHyphen:
		return Subtract, nil
	case TokAmpAmp:
		return And, nil
	case TokPipePipe:
		return Or, nil
	case TokEqualEqual:
		return Equal, nil
	case TokNotEqual:
		return NotEqual, nil
	case TokLess:
		return LessThan, nil
	case TokLessEqual:
		return LessOrEqual, nil
	case TokGreater:
		return GreaterThan, nil
	case TokGreaterEqual:
		return GreaterOrEqual, nil
	}
	return 0, fmt.Errorf("expected a binary operator but found %v with %d tokens left", tok.Kind, p.remaining())
}

func (p *parser) parseFactor() (Exp, error) {
	tok := p.advance()
	switch tok.Kind {
	case TokConstant, TokLongConstant, TokUnsignedIntConstant, TokUnsignedLongConstant:
		return makeConstantExp(tok)
	case TokTilde:
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: Complement, Inner: inner}, nil
	case TokHyphen:
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: Negate, Inner: inner}, nil
	case TokBang:
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: Not, Inner: inner}, nil
	case TokOpenParen:
		if isTypeSpecifier(p.peek().Kind) {
			target, err := p.parseTypeSpecifiers()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokCloseParen); err != nil {
				return nil, err
			}
			inner, err := p.parseFactor()
			if err != nil {
				return nil, err
			}
			return &Cast{Target: target, Inner: inner}, nil
		}
		exp, err := p.parseExp(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokCloseParen); err != nil {
			return nil, err
		}
		return exp, nil
	case TokIdentifier:
		if p.peek().Kind == TokOpenParen {
			args, err := p.parseArguments()
			if err != nil {
				return nil, err
			}
			return &FunctionCall{Name: tok.Value, Args: args}, nil
		}
		return &Var{Name: tok.Value}, nil
	}
	return nil, fmt.Errorf("expected an expression but found %v with %d tokens left", tok.Kind, p.remaining())
}

func (p *parser) parseArguments() ([]Exp, error) {
	if _, err := p.expect(TokOpenParen); err != nil {
		return nil, err
	}
	var args []Exp
	if p.peek().Kind != TokCloseParen {
		for {
			arg, err := p.parseExp(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().Kind != TokComma {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(TokCloseParen); err != nil {
		return nil, err
	}
	return args, nil
}

// makeConstantExp builds a literal in the smallest type that holds its
// value. Decimal literals beyond the widest matching type are fatal.
func makeConstantExp(tok Token) (Exp, error) {
	value, err := strconv.ParseUint(tok.Value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("constant %v too large to represent", tok.Value)
	}
	switch tok.Kind {
	case TokConstant:
		if value > math.MaxInt64 {
			return nil, fmt.Errorf("constant %v too large to represent", tok.Value)
		}
		if value <= math.MaxInt32 {
			return &Constant{Value: ConstInt{Value: int64(value)}}, nil
		}
		return &Constant{Value: ConstLong{Value: int64(value)}}, nil
	case TokLongConstant:
		if value > math.MaxInt64 {
			return nil, fmt.Errorf("constant %v too large to represent", tok.Value)
		}
		return &Constant{Value: ConstLong{Value: int64(value)}}, nil
	case TokUnsignedIntConstant:
		if value <= math.MaxUint32 {
			return &Constant{Value: ConstUInt{Value: value}}, nil
		}
		return &Constant{Value: ConstULong{Value: value}}, nil
	default:
		return &Constant{Value: ConstULong{Value: value}}, nil
	}
}
