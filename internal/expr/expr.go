// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file implements condition evaluation and ${{ ... }} interpolation.
//
// Expressions use HCL native syntax: identifiers traverse the context
// (needs.build.outputs.version), string literals are double-quoted, and
// booleans combine with &&, || , ==, != with short-circuit evaluation. Each
// expression is parsed into an AST once and evaluated against a cty variable
// scope assembled from the Context snapshot.
package expr

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/flowgrid/internal/model"
)

// DefaultCondition is the implied `if` when a job or step declares none.
const DefaultCondition = "success()"

var interpolationPattern = regexp.MustCompile(`\$\{\{(.*?)\}\}`)

// EvalBool evaluates a condition expression to a boolean. An empty raw
// expression means DefaultCondition. A surrounding ${{ ... }} wrapper is
// accepted and stripped.
func EvalBool(raw string, c *Context) (bool, error) {
	src := strings.TrimSpace(raw)
	if src == "" {
		src = DefaultCondition
	}
	val, err := eval(unwrap(src), c)
	if err != nil {
		return false, err
	}
	return truthy(val), nil
}

// EvalString evaluates a bare expression (the inside of one ${{ ... }}
// region) and renders the result as a string.
func EvalString(raw string, c *Context) (string, error) {
	val, err := eval(strings.TrimSpace(raw), c)
	if err != nil {
		return "", err
	}
	return stringify(val), nil
}

// Interpolate replaces every ${{ ... }} region in s with its evaluated
// value. Text outside the regions passes through untouched.
func Interpolate(s string, c *Context) (string, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}
	var firstErr error
	out := interpolationPattern.ReplaceAllStringFunc(s, func(m string) string {
		inner := m[3 : len(m)-2]
		v, err := EvalString(inner, c)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// InterpolateMap interpolates every value of m, returning a new map.
func InterpolateMap(m map[string]string, c *Context) (map[string]string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		iv, err := Interpolate(v, c)
		if err != nil {
			return nil, err
		}
		out[k] = iv
	}
	return out, nil
}

// CheckCondition reports whether a condition expression parses.
func CheckCondition(raw string) error {
	src := strings.TrimSpace(raw)
	if src == "" {
		return nil
	}
	_, err := parse(unwrap(src))
	return err
}

// CheckTemplate reports whether every ${{ ... }} region in s parses.
func CheckTemplate(s string) error {
	for _, m := range interpolationPattern.FindAllString(s, -1) {
		if _, err := parse(m[3 : len(m)-2]); err != nil {
			return err
		}
	}
	return nil
}

// TemplateRoots returns the context roots (github, needs, secrets, ...)
// referenced by the ${{ ... }} regions of s, deduplicated and sorted.
func TemplateRoots(s string) ([]string, error) {
	seen := map[string]struct{}{}
	for _, m := range interpolationPattern.FindAllString(s, -1) {
		e, err := parse(strings.TrimSpace(m[3 : len(m)-2]))
		if err != nil {
			return nil, err
		}
		for _, t := range e.Variables() {
			seen[t.RootName()] = struct{}{}
		}
	}
	roots := make([]string, 0, len(seen))
	for r := range seen {
		roots = append(roots, r)
	}
	sort.Strings(roots)
	return roots, nil
}

func eval(src string, c *Context) (cty.Value, error) {
	e, err := parse(src)
	if err != nil {
		return cty.NilVal, err
	}
	vars, err := c.variables(e.Variables(), src)
	if err != nil {
		return cty.NilVal, err
	}
	val, diags := e.Value(&hcl.EvalContext{
		Variables: vars,
		Functions: c.functions(),
	})
	if diags.HasErrors() {
		return cty.NilVal, &model.EvalError{Expr: src, Msg: diags.Error()}
	}
	return val, nil
}

func parse(src string) (hcl.Expression, error) {
	e, diags := hclsyntax.ParseExpression([]byte(src), "expression", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, &model.EvalError{Expr: src, Msg: diags.Error()}
	}
	return e, nil
}

// unwrap strips a single ${{ ... }} wrapper spanning the whole expression.
func unwrap(src string) string {
	if strings.HasPrefix(src, "${{") && strings.HasSuffix(src, "}}") && strings.Count(src, "${{") == 1 {
		return strings.TrimSpace(src[3 : len(src)-2])
	}
	return src
}

func truthy(val cty.Value) bool {
	if !val.IsKnown() || val.IsNull() {
		return false
	}
	switch val.Type() {
	case cty.Bool:
		return val.True()
	case cty.String:
		s := val.AsString()
		return s != "" && s != "false" && s != "0"
	case cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return f != 0
	}
	return true
}

func stringify(val cty.Value) string {
	if !val.IsKnown() || val.IsNull() {
		return ""
	}
	switch val.Type() {
	case cty.String:
		return val.AsString()
	case cty.Bool:
		if val.True() {
			return "true"
		}
		return "false"
	case cty.Number:
		return val.AsBigFloat().Text('f', -1)
	}
	return fmt.Sprintf("%v", val)
}
