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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

type compilerStage int

const (
	stageAll compilerStage = iota
	stageLex
	stageParse
	stageValidate
	stageTacky
	stageCodegen
	stageTestAll
	stageObject
)

var stageFlags = []struct {
	name  string
	usage string
	stage compilerStage
}{
	{"lex", "run the lexer only and print tokens", stageLex},
	{"parse", "parse the source and print the C AST", stageParse},
	{"validate", "run semantic analysis and print the validated C AST", stageValidate},
	{"tacky", "lower to the three-address IR and print it", stageTacky},
	{"codegen", "lower to the assembly AST and print it", stageCodegen},
	{"all", "run the full pipeline and assemble an executable", stageAll},
	{"testall", "run the full pipeline and print every intermediate form", stageTestAll},
	{"object", "run the full pipeline and assemble an object file", stageObject},
}

var verbose bool

var command = &cobra.Command{
	Use:  "scc [flags] source...",
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		stage, err := selectedStage(cmd)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := runCompiler(args, stage); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	for _, flag := range stageFlags {
		if flag.name == "object" {
			command.PersistentFlags().BoolP(flag.name, "c", false, flag.usage)
		} else {
			command.PersistentFlags().Bool(flag.name, false, flag.usage)
		}
	}
	command.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "if set, increase verbosity level")
}

func selectedStage(cmd *cobra.Command) (compilerStage, error) {
	stage := stageAll
	count := 0
	for _, flag := range stageFlags {
		set, _ := cmd.PersistentFlags().GetBool(flag.name)
		if set {
			stage = flag.stage
			count++
		}
	}
	if count > 1 {
		return stageAll, errors.New("stage flags are mutually exclusive")
	}
	return stage, nil
}

func runCompiler(files []string, stage compilerStage) error {
	for _, file := range files {
		if err := compileOne(file, stage); err != nil {
			return err
		}
	}
	return nil
}

func compileOne(file string, stage compilerStage) error {
	preprocessed, err := preprocess(file)
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(preprocessed)
	}()
	assembly, err := compileC(preprocessed, stage)
	if err != nil || assembly == "" {
		return err
	}
	switch stage {
	case stageAll, stageTestAll:
		return assemble(assembly)
	case stageObject:
		return assembleObject(assembly)
	}
	return nil
}

// compileC drives the pipeline over one preprocessed file and returns
// the path of the written assembly file, or "" when an early stage flag
// stopped the pipeline after printing.
func compileC(path string, stage compilerStage) (string, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	tokens, err := lex(string(source))
	if err != nil {
		return "", err
	}
	if stage == stageLex || stage == stageTestAll {
		for _, token := range tokens {
			fmt.Println(token)
		}
		if stage == stageLex {
			return "", nil
		}
	}

	ast, err := parse(tokens)
	if err != nil {
		return "", err
	}
	if stage == stageParse || stage == stageTestAll {
		fmt.Println("C AST:")
		fmt.Println(formatNode(ast))
		if stage == stageParse {
			return "", nil
		}
	}

	ctx := NewContext()
	validated, err := validateProgram(ctx, ast)
	if err != nil {
		return "", err
	}
	if stage == stageValidate || stage == stageTestAll {
		fmt.Println("Validated C AST:")
		fmt.Println(formatNode(validated))
		if stage == stageValidate {
			return "", nil
		}
	}

	ir, err := emitTackyProgram(ctx, validated)
	if err != nil {
		return "", err
	}
	if stage == stageTacky || stage == stageTestAll {
		fmt.Println("Tacky AST:")
		fmt.Println(formatNode(ir))
		if stage == stageTacky {
			return "", nil
		}
	}

	lowered, err := lowerProgram(ctx, ir)
	if err != nil {
		return "", err
	}
	allocated, err := allocateProgram(ctx, lowered)
	if err != nil {
		return "", err
	}
	if stage == stageCodegen || stage == stageTestAll {
		fmt.Println("Assembly AST:")
		fmt.Println(formatNode(allocated))
		if stage == stageCodegen {
			return "", nil
		}
	}

	text, err := emitProgram(ctx, allocated)
	if err != nil {
		return "", err
	}
	output := strings.TrimSuffix(path, filepath.Ext(path)) + ".s"
	if err := os.WriteFile(output, []byte(text), 0o644); err != nil {
		return "", err
	}
	return output, nil
}

// validateProgram runs the semantic passes in order: identifier
// resolution, type checking, loop labeling.
func validateProgram(ctx *Context, program *Program) (*Program, error) {
	resolved, err := resolveProgram(ctx, program)
	if err != nil {
		return nil, err
	}
	checked, err := typecheckProgram(ctx, resolved)
	if err != nil {
		return nil, err
	}
	return labelProgram(ctx, checked)
}

// preprocess runs the system preprocessor, producing a .i file next to
// the input.
func preprocess(file string) (string, error) {
	output := strings.TrimSuffix(file, filepath.Ext(file)) + ".i"
	if _, err := runCommand("gcc", "-E", "-P", file, "-o", output); err != nil {
		return "", fmt.Errorf("preprocessing failed for %v: %w", file, err)
	}
	return output, nil
}

// assemble builds an executable from the emitted assembly and removes
// the intermediate file.
func assemble(file string) error {
	output := strings.TrimSuffix(file, filepath.Ext(file))
	if _, err := runCommand("gcc", file, "-o", output); err != nil {
		return fmt.Errorf("assembling failed for %v: %w", file, err)
	}
	return os.Remove(file)
}

// assembleObject builds a relocatable object from the emitted assembly
// and removes the intermediate file.
func assembleObject(file string) error {
	output := strings.TrimSuffix(file, filepath.Ext(file)) + ".o"
	if _, err := runCommand("gcc", "-c", file, "-o", output); err != nil {
		return fmt.Errorf("assembling failed for %v: %w", file, err)
	}
	return os.Remove(file)
}

// runCommand runs a command and extract its output.
func runCommand(name string, arg ...string) (string, error) {
	if verbose {
		fmt.Fprintf(os.Stderr, "Running %v\n", append([]string{name}, arg...))
	}
	cmd := exec.Command(name, arg...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if output != nil {
			return "", errors.New(string(output))
		}
		return "", err
	}
	return string(output), nil
}

func main() {
	if err := command.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
