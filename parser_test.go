package main

import (
	"testing"
)

func parseExpString(t *testing.T, source string) Exp {
	t.Helper()
	tokens, err := lex(source)
	if err != nil {
		t.Fatal(err)
	}
	p := &parser{tokens: tokens}
	exp, err := p.parseExp(0)
	if err != nil {
		t.Fatal(err)
	}
	if p.remaining() != 0 {
		t.Fatalf("parseExp left %d tokens", p.remaining())
	}
	return exp
}

func parseProgramString(t *testing.T, source string) *Program {
	t.Helper()
	tokens, err := lex(source)
	if err != nil {
		t.Fatal(err)
	}
	program, err := parse(tokens)
	if err != nil {
		t.Fatal(err)
	}
	return program
}

func TestParse_Precedence(t *testing.T) {
	exp := parseExpString(t, "1 + 2 * 3")
	add, ok := exp.(*Binary)
	if !ok || add.Op != Add {
		t.Fatalf("top node = %T %v, want Binary Add", exp, exp)
	}
	mult, ok := add.Right.(*Binary)
	if !ok || mult.Op != Multiply {
		t.Fatalf("right child = %T, want Binary Multiply", add.Right)
	}
}

func TestParse_LeftAssociativity(t *testing.T) {
	exp := parseExpString(t, "1 - 2 - 3")
	outer, ok := exp.(*Binary)
	if !ok || outer.Op != Subtract {
		t.Fatalf("top node = %T, want Binary Subtract", exp)
	}
	if _, ok := outer.Left.(*Binary); !ok {
		t.Errorf("left child = %T, want Binary (left-associative)", outer.Left)
	}
}

func TestParse_AssignmentRightAssociativity(t *testing.T) {
	exp := parseExpString(t, "a = b = 1")
	outer, ok := exp.(*Assignment)
	if !ok {
		t.Fatalf("top node = %T, want Assignment", exp)
	}
	if _, ok := outer.Right.(*Assignment); !ok {
		t.Errorf("right child = %T, want Assignment (right-associative)", outer.Right)
	}
}

func TestParse_ConditionalRightAssociativity(t *testing.T) {
	exp := parseExpString(t, "a ? 1 : b ? 2 : 3")
	outer, ok := exp.(*Conditional)
	if !ok {
		t.Fatalf("top node = %T, want Conditional", exp)
	}
	if _, ok := outer.Else.(*Conditional); !ok {
		t.Errorf("else arm = %T, want Conditional", outer.Else)
	}
}

func TestParse_CastVersusParenthesized(t *testing.T) {
	cast, ok := parseExpString(t, "(long) x").(*Cast)
	if !ok {
		t.Fatal("(long) x did not parse as a cast")
	}
	if !typesEqual(cast.Target, LongType{}) {
		t.Errorf("cast target = %v, want Long", cast.Target)
	}
	if _, ok := parseExpString(t, "(x)").(*Var); !ok {
		t.Error("(x) did not parse as a variable")
	}
}

func TestParse_FunctionCall(t *testing.T) {
	call, ok := parseExpString(t, "f(1, 2, 3)").(*FunctionCall)
	if !ok {
		t.Fatal("f(1, 2, 3) did not parse as a call")
	}
	if call.Name != "f" || len(call.Args) != 3 {
		t.Errorf("call = %v with %d args, want f with 3", call.Name, len(call.Args))
	}
}

func TestParse_SpecifierPooling(t *testing.T) {
	tests := []struct {
		source  string
		typ     Type
		storage StorageClass
	}{
		{"int x;", IntType{}, StorageNone},
		{"long x;", LongType{}, StorageNone},
		{"signed long x;", LongType{}, StorageNone},
		{"long signed x;", LongType{}, StorageNone},
		{"unsigned x;", UIntType{}, StorageNone},
		{"unsigned long x;", ULongType{}, StorageNone},
		{"long unsigned x;", ULongType{}, StorageNone},
		{"static int x;", IntType{}, StorageStatic},
		{"int static x;", IntType{}, StorageStatic},
		{"extern unsigned long x;", ULongType{}, StorageExtern},
		{"long static unsigned x;", ULongType{}, StorageStatic},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			program := parseProgramString(t, tt.source)
			decl, ok := program.Declarations[0].(*VariableDeclaration)
			if !ok {
				t.Fatalf("declaration = %T, want variable", program.Declarations[0])
			}
			if !typesEqual(decl.Type, tt.typ) {
				t.Errorf("type = %v, want %v", decl.Type, tt.typ)
			}
			if decl.StorageClass != tt.storage {
				t.Errorf("storage = %v, want %v", decl.StorageClass, tt.storage)
			}
		})
	}
}

func TestParse_SpecifierErrors(t *testing.T) {
	for _, source := range []string{
		"int int x;",
		"signed unsigned x;",
		"static extern int x;",
		"static x;",
		"unsigned unsigned x;",
	} {
		t.Run(source, func(t *testing.T) {
			tokens, err := lex(source)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := parse(tokens); err == nil {
				t.Errorf("parse(%q) succeeded, want error", source)
			}
		})
	}
}

func TestParse_DeclaratorLookahead(t *testing.T) {
	program := parseProgramString(t, "int f(int a, long b); int x;")
	fun, ok := program.Declarations[0].(*FunctionDeclaration)
	if !ok {
		t.Fatalf("first declaration = %T, want function", program.Declarations[0])
	}
	if fun.Body != nil {
		t.Error("declaration without body has non-nil body")
	}
	if len(fun.Params) != 2 || fun.Params[0] != "a" || fun.Params[1] != "b" {
		t.Errorf("params = %v, want [a b]", fun.Params)
	}
	if !typesEqual(fun.Type.Params[0], IntType{}) || !typesEqual(fun.Type.Params[1], LongType{}) {
		t.Errorf("param types = %v, want [Int Long]", fun.Type.Params)
	}
	if _, ok := program.Declarations[1].(*VariableDeclaration); !ok {
		t.Errorf("second declaration = %T, want variable", program.Declarations[1])
	}
}

func TestParse_SmallestFittingConstantType(t *testing.T) {
	tests := []struct {
		source string
		want   Const
	}{
		{"5", ConstInt{Value: 5}},
		{"2147483647", ConstInt{Value: 2147483647}},
		{"2147483648", ConstLong{Value: 2147483648}},
		{"5l", ConstLong{Value: 5}},
		{"5u", ConstUInt{Value: 5}},
		{"4294967295u", ConstUInt{Value: 4294967295}},
		{"4294967296u", ConstULong{Value: 4294967296}},
		{"5ul", ConstULong{Value: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			constant, ok := parseExpString(t, tt.source).(*Constant)
			if !ok {
				t.Fatal("literal did not parse as a constant")
			}
			if constant.Value != tt.want {
				t.Errorf("constant = %#v, want %#v", constant.Value, tt.want)
			}
		})
	}
}

func TestParse_ConstantOverflow(t *testing.T) {
	for _, source := range []string{
		"9223372036854775808",
		"9223372036854775808l",
		"18446744073709551616u",
		"18446744073709551616ul",
	} {
		t.Run(source, func(t *testing.T) {
			tokens, err := lex("int main(void) { return " + source + "; }")
			if err != nil {
				t.Fatal(err)
			}
			if _, err := parse(tokens); err == nil {
				t.Errorf("parsing literal %v succeeded, want overflow error", source)
			}
		})
	}
}

func TestParse_Statements(t *testing.T) {
	program := parseProgramString(t, `
int main(void) {
    int x = 0;
    for (int i = 0; i < 5; i = i + 1) {
        if (i == 3)
            continue;
        else
            x = x + i;
    }
    do x = x - 1; while (x > 10);
    while (x) break;
    ;
    return x;
}`)
	fun := program.Declarations[0].(*FunctionDeclaration)
	if len(fun.Body.Items) != 6 {
		t.Fatalf("body has %d items, want 6", len(fun.Body.Items))
	}
	if _, ok := fun.Body.Items[1].(*ForStmt); !ok {
		t.Errorf("item 1 = %T, want for", fun.Body.Items[1])
	}
	if _, ok := fun.Body.Items[2].(*DoWhileStmt); !ok {
		t.Errorf("item 2 = %T, want do-while", fun.Body.Items[2])
	}
	if _, ok := fun.Body.Items[3].(*WhileStmt); !ok {
		t.Errorf("item 3 = %T, want while", fun.Body.Items[3])
	}
	if _, ok := fun.Body.Items[4].(*NullStmt); !ok {
		t.Errorf("item 4 = %T, want null statement", fun.Body.Items[4])
	}
}

func TestParse_EmptyForClauses(t *testing.T) {
	program := parseProgramString(t, "int main(void) { for (;;) break; return 0; }")
	fun := program.Declarations[0].(*FunctionDeclaration)
	forStmt, ok := fun.Body.Items[0].(*ForStmt)
	if !ok {
		t.Fatalf("item 0 = %T, want for", fun.Body.Items[0])
	}
	init, ok := forStmt.Init.(*InitExp)
	if !ok || init.Exp != nil {
		t.Errorf("for init = %#v, want empty expression clause", forStmt.Init)
	}
	if forStmt.Cond != nil || forStmt.Post != nil {
		t.Error("empty for clauses parsed as non-nil")
	}
}

func TestParse_UnexpectedToken(t *testing.T) {
	for _, source := range []string{
		"int main(void) { return 2 }",
		"int main(void) { return ; }",
		"int main(void { return 2; }",
		"int main(void) { int 3 = x; }",
	} {
		t.Run(source, func(t *testing.T) {
			tokens, err := lex(source)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := parse(tokens); err == nil {
				t.Errorf("parse(%q) succeeded, want error", source)
			}
		})
	}
}
