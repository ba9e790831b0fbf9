package main

import (
	"strings"
	"testing"
)

func TestEmit_ReturnTwoExact(t *testing.T) {
	text := compileToAssembly(t, "int main(void) { return 2; }")
	want := strings.Join([]string{
		"\t.globl main",
		"\t.text",
		"main:",
		"\tpushq\t%rbp",
		"\tmovq\t%rsp, %rbp",
		"\tsubq\t$0, %rsp",
		"\tmovl\t$2, %eax",
		"\tmovq\t%rbp, %rsp",
		"\tpopq\t%rbp",
		"\tret",
		"\tmovl\t$0, %eax",
		"\tmovq\t%rbp, %rsp",
		"\tpopq\t%rbp",
		"\tret",
		"\t.section .note.GNU-stack,\"\",@progbits",
		"",
	}, "\n")
	if text != want {
		t.Errorf("emitted assembly:\n%s\nwant:\n%s", text, want)
	}
}

func TestEmit_StaticSections(t *testing.T) {
	text := compileToAssembly(t, `
int configured = 5;
int zeroed;
int main(void) { return configured + zeroed; }`)
	if !strings.Contains(text, "\t.data\n\t.align 4\nconfigured:\n\t.long 5\n") {
		t.Errorf("initialized static missing from .data:\n%s", text)
	}
	if !strings.Contains(text, "\t.bss\n\t.align 4\nzeroed:\n\t.zero 4\n") {
		t.Errorf("zero static missing from .bss:\n%s", text)
	}
	if !strings.Contains(text, "\t.globl configured\n") {
		t.Errorf("exported static missing .globl:\n%s", text)
	}
}

func TestEmit_QuadwordStatic(t *testing.T) {
	text := compileToAssembly(t, "long wide = 4294967296; int main(void) { return (int) wide; }")
	if !strings.Contains(text, "\t.align 8\nwide:\n\t.quad 4294967296\n") {
		t.Errorf("quadword static misses alignment or directive:\n%s", text)
	}
}

func TestEmit_LocalStaticNotGlobal(t *testing.T) {
	text := compileToAssembly(t, "int main(void) { static int hits = 1; return hits; }")
	if strings.Contains(text, ".globl hits") {
		t.Errorf("internal static exported:\n%s", text)
	}
	if !strings.Contains(text, "hits.0:") {
		t.Errorf("local static datum missing:\n%s", text)
	}
	if !strings.Contains(text, "hits.0(%rip)") {
		t.Errorf("local static accessed without rip-relative addressing:\n%s", text)
	}
}

func TestEmit_StaticFunctionNotGlobal(t *testing.T) {
	text := compileToAssembly(t, `
static int helper(void) { return 1; }
int main(void) { return helper(); }`)
	if strings.Contains(text, ".globl helper") {
		t.Errorf("static function exported:\n%s", text)
	}
	if !strings.Contains(text, "\t.globl main\n") {
		t.Errorf("main not exported:\n%s", text)
	}
}

func TestEmit_ExternalCallUsesPLT(t *testing.T) {
	text := compileToAssembly(t, "int putchar(int c); int main(void) { return putchar(65); }")
	if !strings.Contains(text, "\tcall\tputchar@PLT\n") {
		t.Errorf("external call not routed through the PLT:\n%s", text)
	}
}

func TestEmit_InternalCallSkipsPLT(t *testing.T) {
	text := compileToAssembly(t, `
int helper(void) { return 3; }
int main(void) { return helper(); }`)
	if !strings.Contains(text, "\tcall\thelper\n") {
		t.Errorf("internal call missing:\n%s", text)
	}
	if strings.Contains(text, "helper@PLT") {
		t.Errorf("internal call routed through the PLT:\n%s", text)
	}
}

func TestEmit_LabelsArePrefixed(t *testing.T) {
	text := compileToAssembly(t, `
int main(void) {
    int x = 0;
    while (x < 3)
        x = x + 1;
    return x;
}`)
	if !strings.Contains(text, ".Lcontinue_loop") {
		t.Errorf("loop label not .L-prefixed:\n%s", text)
	}
	if !strings.Contains(text, "\tjmp\t.Lcontinue_loop") {
		t.Errorf("jump target not .L-prefixed:\n%s", text)
	}
}

func TestEmit_WidthSuffixesAndRegisters(t *testing.T) {
	text := compileToAssembly(t, `
long f(long a) { return a / 2; }
int main(void) { return (int) f(10); }`)
	for _, want := range []string{"cqo", "idivq", "movq"} {
		if !strings.Contains(text, want) {
			t.Errorf("quadword division misses %q:\n%s", want, text)
		}
	}
}

func TestEmit_SetccUsesByteRegister(t *testing.T) {
	text := compileToAssembly(t, "int main(void) { return 1 < 2; }")
	if !strings.Contains(text, "\tsetl\t") {
		t.Errorf("comparison misses setl:\n%s", text)
	}
}

func TestEmit_CdqForLongword(t *testing.T) {
	text := compileToAssembly(t, "int main(void) { return 7 / 2; }")
	if !strings.Contains(text, "\tcdq\n") {
		t.Errorf("longword division misses cdq:\n%s", text)
	}
	if !strings.Contains(text, "\tidivl\t") {
		t.Errorf("longword division misses idivl:\n%s", text)
	}
}
