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
	"reflect"
	"strings"
)

// formatNode renders any IR node as an indented TypeName(...) tree for
// the stage-printing flags. The traversal is reflective so every
// representation shares one printer: nodes whose fields are all scalar
// print on one line, the rest expand one field per line.

func formatNode(node any) string {
	return printValue(reflect.ValueOf(node), 0)
}

func prettyIndent(text string, level int) string {
	return strings.Repeat("    ", level) + text
}

func printValue(v reflect.Value, level int) string {
	if !v.IsValid() {
		return prettyIndent("nil", level)
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return prettyIndent("nil", level)
		}
		return printValue(v.Elem(), level)
	case reflect.Slice:
		lines := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			lines = append(lines, printValue(v.Index(i), level))
		}
		return strings.Join(lines, "\n")
	case reflect.Struct:
		return printStruct(v, level)
	default:
		return prettyIndent(scalarString(v), level)
	}
}

func scalarString(v reflect.Value) string {
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	if v.Kind() == reflect.Struct {
		return v.Type().Name() + "()"
	}
	return fmt.Sprint(v.Interface())
}

func printStruct(v reflect.Value, level int) string {
	name := v.Type().Name()
	inline := true
	for i := 0; i < v.NumField(); i++ {
		if !isScalar(v.Field(i)) {
			inline = false
			break
		}
	}
	if inline {
		parts := make([]string, 0, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			parts = append(parts, scalarString(v.Field(i)))
		}
		return prettyIndent(name+"("+strings.Join(parts, ", ")+")", level)
	}
	lines := []string{prettyIndent(name+"(", level)}
	for i := 0; i < v.NumField(); i++ {
		lines = append(lines, printValue(v.Field(i), level+1))
	}
	lines = append(lines, prettyIndent(")", level))
	return strings.Join(lines, "\n")
}

func isScalar(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	case reflect.Struct:
		return v.NumField() == 0
	}
	return false
}
