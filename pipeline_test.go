package main

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compileToAssemblyAST runs the pipeline through allocation.
func compileToAssemblyAST(t *testing.T, source string) *AsmProgram {
	t.Helper()
	validated, ctx, err := validateSource(t, source)
	if err != nil {
		t.Fatal(err)
	}
	ir, err := emitTackyProgram(ctx, validated)
	if err != nil {
		t.Fatal(err)
	}
	lowered, err := lowerProgram(ctx, ir)
	if err != nil {
		t.Fatal(err)
	}
	allocated, err := allocateProgram(ctx, lowered)
	if err != nil {
		t.Fatal(err)
	}
	return allocated
}

// compileToAssembly runs the full pipeline and returns the emitted
// assembly text.
func compileToAssembly(t *testing.T, source string) string {
	t.Helper()
	validated, ctx, err := validateSource(t, source)
	if err != nil {
		t.Fatal(err)
	}
	ir, err := emitTackyProgram(ctx, validated)
	if err != nil {
		t.Fatal(err)
	}
	lowered, err := lowerProgram(ctx, ir)
	if err != nil {
		t.Fatal(err)
	}
	allocated, err := allocateProgram(ctx, lowered)
	if err != nil {
		t.Fatal(err)
	}
	text, err := emitProgram(ctx, allocated)
	if err != nil {
		t.Fatal(err)
	}
	return text
}

// walkExps visits every expression node reachable from the given tree.
func walkExps(node any, visit func(Exp)) {
	walkExpValue(reflect.ValueOf(node), visit)
}

func walkExpValue(v reflect.Value, visit func(Exp)) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Interface:
		if !v.IsNil() {
			walkExpValue(v.Elem(), visit)
		}
	case reflect.Pointer:
		if v.IsNil() {
			return
		}
		if exp, ok := v.Interface().(Exp); ok {
			visit(exp)
		}
		walkExpValue(v.Elem(), visit)
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			walkExpValue(v.Index(i), visit)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			walkExpValue(v.Field(i), visit)
		}
	}
}

func TestPipeline_ReturnConstant(t *testing.T) {
	text := compileToAssembly(t, "int main(void) { return 2; }")
	assert.Contains(t, text, "\tmovl\t$2, %eax\n")
	assert.Contains(t, text, "\t.globl main\n")
}

func TestPipeline_ComplementOfNegation(t *testing.T) {
	text := compileToAssembly(t, "int main(void) { return ~(-3); }")
	assert.Contains(t, text, "negl")
	assert.Contains(t, text, "notl")
}

func TestPipeline_Arithmetic(t *testing.T) {
	text := compileToAssembly(t, "int main(void) { return (1 + 2) * 3 - 4 / 2; }")
	assert.Contains(t, text, "imull")
	assert.Contains(t, text, "idivl")
	assert.Contains(t, text, "cdq")
}

func TestPipeline_ShortCircuitChain(t *testing.T) {
	text := compileToAssembly(t, "int main(void) { return 1 && (0 || 2); }")
	assert.Contains(t, text, ".Lsc_and")
	assert.Contains(t, text, ".Lsc_or")
	assert.Contains(t, text, "\tje\t")
	assert.Contains(t, text, "\tjne\t")
}

func TestPipeline_ForLoopSum(t *testing.T) {
	text := compileToAssembly(t,
		"int main(void) { int x = 0; for (int i = 0; i < 5; i = i + 1) { x = x + i; } return x; }")
	assert.Contains(t, text, ".Lstart_loop")
	assert.Contains(t, text, ".Lbreak_loop")
	assert.Contains(t, text, ".Lcontinue_loop")
	assert.Contains(t, text, "\tsetl\t")
}

func TestPipeline_SeventhArgumentOnStack(t *testing.T) {
	source := `
long f(long a, long b, long c, long d, long e, long f, long g) { return g; }
int main(void) { return (int) f(1, 2, 3, 4, 5, 6, 42); }`
	text := compileToAssembly(t, source)
	require.Contains(t, text, "16(%rbp)")
	assert.Contains(t, text, "\tpushq\t")
	assert.Contains(t, text, "\tcall\tf\n")
	// One stack argument forces alignment padding and a 16-byte cleanup.
	assert.Contains(t, text, "\tsubq\t$8, %rsp\n")
	assert.Contains(t, text, "\taddq\t$16, %rsp\n")
}

func TestPipeline_Deterministic(t *testing.T) {
	source := `
int counter = 3;
long scale(long by) { return counter * by; }
int main(void) {
    long total = 0;
    for (int i = 0; i < 4; i = i + 1)
        total = total + scale((long) i);
    return (int) total;
}`
	first := compileToAssembly(t, source)
	second := compileToAssembly(t, source)
	require.Equal(t, first, second, "two runs over the same input must emit identical assembly")
}

func TestPipeline_FrameAllocationFirstAndAligned(t *testing.T) {
	program := compileToAssemblyAST(t, `
long f(long a, long b, long c, long d, long e, long f, long g) { return g + a; }
int main(void) { return (int) f(1, 2, 3, 4, 5, 6, 7); }`)
	for _, topLevel := range program.TopLevels {
		function, ok := topLevel.(*AsmFunctionDef)
		if !ok {
			continue
		}
		require.NotEmpty(t, function.Instructions)
		frame, ok := function.Instructions[0].(*AsmBinary)
		require.True(t, ok, "function %v does not start with the frame allocation", function.Name)
		assert.Equal(t, AsmSub, frame.Op)
		assert.Equal(t, Quadword, frame.Type)
		assert.Equal(t, AsmReg{Reg: RegSP}, frame.Dst)
		size := frame.Src.(AsmImm).Value
		assert.Zero(t, size%16, "frame size %d of %v not 16-byte aligned", size, function.Name)
	}
}

func TestPipeline_LegalizedOutputIsFixedPoint(t *testing.T) {
	program := compileToAssemblyAST(t, `
unsigned long big = 18446744073709551615ul;
long f(long a, long b) { return a * b - a / b; }
int main(void) { return (int) f((long) big, 3); }`)
	for _, topLevel := range program.TopLevels {
		function, ok := topLevel.(*AsmFunctionDef)
		if !ok {
			continue
		}
		for _, instruction := range function.Instructions {
			_, changed := legalizeInstruction(instruction)
			assert.False(t, changed, "instruction %#v in %v still triggers a rewrite", instruction, function.Name)
		}
	}
}

func TestPipeline_StaticsAcrossFunctions(t *testing.T) {
	text := compileToAssembly(t, `
static int hidden = 2;
int exported = 1;
int bump(void) { return hidden + exported; }
int main(void) { return bump(); }`)
	assert.Contains(t, text, "hidden:")
	assert.Contains(t, text, "exported:")
	assert.NotContains(t, text, ".globl hidden")
	assert.Contains(t, text, "\t.globl exported\n")
	assert.Contains(t, text, "hidden(%rip)")
}

func TestPipeline_UnsignedValuesFlowThrough(t *testing.T) {
	text := compileToAssembly(t, `
unsigned long mask = 18446744073709551615ul;
int main(void) {
    unsigned int narrow = 4294967295u;
    return (int) (mask == 18446744073709551615ul) + (int) narrow - (int) narrow;
}`)
	assert.Contains(t, text, "\t.quad 18446744073709551615\n")
	assert.Contains(t, text, "mask(%rip)")
}

func TestPipeline_ValidationErrorsSurface(t *testing.T) {
	for _, source := range []string{
		"int main(void) { return x; }",
		"int main(void) { break; }",
		"int main(void) { int x = 1; return x(); }",
	} {
		tokens, err := lex(source)
		require.NoError(t, err)
		parsed, err := parse(tokens)
		require.NoError(t, err)
		_, err = validateProgram(NewContext(), parsed)
		assert.Error(t, err, "validating %q should fail", source)
	}
}
