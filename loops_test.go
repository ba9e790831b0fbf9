package main

import (
	"testing"
)

func validateSource(t *testing.T, source string) (*Program, *Context, error) {
	t.Helper()
	tokens, err := lex(source)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := parse(tokens)
	if err != nil {
		t.Fatal(err)
	}
	ctx := NewContext()
	validated, err := validateProgram(ctx, parsed)
	return validated, ctx, err
}

func TestLabel_BreakAndContinueGetLoopLabel(t *testing.T) {
	program, _, err := validateSource(t, `
int main(void) {
    int x = 0;
    while (x < 10) {
        if (x == 5)
            break;
        x = x + 1;
        continue;
    }
    return x;
}`)
	if err != nil {
		t.Fatal(err)
	}
	fun := program.Declarations[0].(*FunctionDeclaration)
	loop := fun.Body.Items[1].(*WhileStmt)
	if loop.Label == "" {
		t.Fatal("loop carries no label")
	}
	body := loop.Body.(*CompoundStmt).Block
	breakStmt := body.Items[0].(*IfStmt).Then.(*BreakStmt)
	continueStmt := body.Items[2].(*ContinueStmt)
	if breakStmt.Label != loop.Label {
		t.Errorf("break label = %q, want loop label %q", breakStmt.Label, loop.Label)
	}
	if continueStmt.Label != loop.Label {
		t.Errorf("continue label = %q, want loop label %q", continueStmt.Label, loop.Label)
	}
}

func TestLabel_NestedLoopsBindInnermost(t *testing.T) {
	program, _, err := validateSource(t, `
int main(void) {
    for (int i = 0; i < 3; i = i + 1) {
        do {
            break;
        } while (1);
        continue;
    }
    return 0;
}`)
	if err != nil {
		t.Fatal(err)
	}
	fun := program.Declarations[0].(*FunctionDeclaration)
	outer := fun.Body.Items[0].(*ForStmt)
	body := outer.Body.(*CompoundStmt).Block
	inner := body.Items[0].(*DoWhileStmt)
	if inner.Label == outer.Label {
		t.Fatal("nested loops share a label")
	}
	breakStmt := inner.Body.(*CompoundStmt).Block.Items[0].(*BreakStmt)
	if breakStmt.Label != inner.Label {
		t.Errorf("break label = %q, want innermost loop label %q", breakStmt.Label, inner.Label)
	}
	continueStmt := body.Items[1].(*ContinueStmt)
	if continueStmt.Label != outer.Label {
		t.Errorf("continue label = %q, want outer loop label %q", continueStmt.Label, outer.Label)
	}
}

func TestLabel_EscapeOutsideLoopFails(t *testing.T) {
	for _, source := range []string{
		"int main(void) { break; }",
		"int main(void) { continue; }",
		"int main(void) { if (1) break; return 0; }",
		"int main(void) { while (1) ; continue; }",
	} {
		t.Run(source, func(t *testing.T) {
			if _, _, err := validateSource(t, source); err == nil {
				t.Errorf("validating %q succeeded, want error", source)
			}
		})
	}
}
