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

// The three-address IR: flat instruction lists over constants and named
// values, with explicit labels and jumps for all control flow.

type IRProgram struct {
	TopLevels []IRTopLevel
}

type IRTopLevel interface {
	irTopLevel()
}

type IRFunctionDefinition struct {
	Name   string
	Global bool
	Params []string
	Body   []IRInstruction
}

type IRStaticVariable struct {
	Name   string
	Global bool
	Type   Type
	Init   StaticInit
}

func (*IRFunctionDefinition) irTopLevel() {}
func (*IRStaticVariable) irTopLevel()     {}

type IRInstruction interface {
	irInstruction()
}

type IRReturn struct {
	Val IRVal
}

type IRSignExtend struct {
	Src IRVal
	Dst IRVal
}

type IRTruncate struct {
	Src IRVal
	Dst IRVal
}

type IRZeroExtend struct {
	Src IRVal
	Dst IRVal
}

type IRUnary struct {
	Op  IRUnaryOperator
	Src IRVal
	Dst IRVal
}

type IRBinary struct {
	Op   IRBinaryOperator
	Src1 IRVal
	Src2 IRVal
	Dst  IRVal
}

type IRCopy struct {
	Src IRVal
	Dst IRVal
}

type IRJump struct {
	Target string
}

type IRJumpIfZero struct {
	Cond   IRVal
	Target string
}

type IRJumpIfNotZero struct {
	Cond   IRVal
	Target string
}

type IRLabel struct {
	Name string
}

type IRFunCall struct {
	Name string
	Args []IRVal
	Dst  IRVal
}

func (*IRReturn) irInstruction()        {}
func (*IRSignExtend) irInstruction()    {}
func (*IRTruncate) irInstruction()      {}
func (*IRZeroExtend) irInstruction()    {}
func (*IRUnary) irInstruction()         {}
func (*IRBinary) irInstruction()        {}
func (*IRCopy) irInstruction()          {}
func (*IRJump) irInstruction()          {}
func (*IRJumpIfZero) irInstruction()    {}
func (*IRJumpIfNotZero) irInstruction() {}
func (*IRLabel) irInstruction()         {}
func (*IRFunCall) irInstruction()       {}

type IRVal interface {
	irVal()
}

type IRConstant struct {
	Value Const
}

type IRVar struct {
	Name string
}

func (IRConstant) irVal() {}
func (IRVar) irVal()      {}

type IRUnaryOperator int

const (
	IRComplement IRUnaryOperator = iota
	IRNegate
	IRNot
)

func (op IRUnaryOperator) String() string {
	switch op {
	case IRComplement:
		return "Complement"
	case IRNegate:
		return "Negate"
	case IRNot:
		return "Not"
	}
	return "IRUnaryOperator(?)"
}

type IRBinaryOperator int

const (
	IRAdd IRBinaryOperator = iota
	IRSubtract
	IRMultiply
	IRDivide
	IRRemainder

	IREqual
	IRNotEqual
	IRLessThan
	IRLessOrEqual
	IRGreaterThan
	IRGreaterOrEqual
)

func (op IRBinaryOperator) isRelational() bool {
	switch op {
	case IREqual, IRNotEqual, IRLessThan, IRLessOrEqual, IRGreaterThan, IRGreaterOrEqual:
		return true
	}
	return false
}

var irBinaryOperatorNames = map[IRBinaryOperator]string{
	IRAdd:            "Add",
	IRSubtract:       "Subtract",
	IRMultiply:       "Multiply",
	IRDivide:         "Divide",
	IRRemainder:      "Remainder",
	IREqual:          "Equal",
	IRNotEqual:       "NotEqual",
	IRLessThan:       "LessThan",
	IRLessOrEqual:    "LessOrEqual",
	IRGreaterThan:    "GreaterThan",
	IRGreaterOrEqual: "GreaterOrEqual",
}

func (op IRBinaryOperator) String() string {
	if name, ok := irBinaryOperatorNames[op]; ok {
		return name
	}
	return "IRBinaryOperator(?)"
}
