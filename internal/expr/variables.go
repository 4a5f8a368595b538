// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file assembles the cty variable scope for one evaluation.
//
// The scope is shaped by the traversals the parsed expression actually uses
// (the same AST walk the dependency-analysis layer performs). Walking the
// references first lets us distinguish the two failure modes the engine
// cares about: a traversal into a context entry that was never declared is a
// hard EvalError, while a declared entry whose output key was simply never
// produced is injected as the empty string before evaluation.
package expr

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/flowgrid/internal/model"
)

func (c *Context) variables(refs []hcl.Traversal, src string) (map[string]cty.Value, error) {
	github := copyStringMap(c.GitHub)
	inputs := copyStringMap(c.Inputs)
	env := copyStringMap(c.Env)
	secrets := map[string]string{}

	needOutputs := make(map[string]map[string]string, len(c.Needs))
	for name, n := range c.Needs {
		needOutputs[name] = copyStringMap(n.Outputs)
	}
	stepOutputs := make(map[string]map[string]string, len(c.Steps))
	for id, s := range c.Steps {
		stepOutputs[id] = copyStringMap(s.Outputs)
	}

	for _, t := range refs {
		switch t.RootName() {
		case "github":
			ensureKey(github, traverseName(t, 1))
		case "inputs":
			ensureKey(inputs, traverseName(t, 1))
		case "env":
			ensureKey(env, traverseName(t, 1))
		case "secrets":
			name := traverseName(t, 1)
			if name == "" {
				continue
			}
			if _, ok := secrets[name]; ok {
				continue
			}
			var v string
			if c.Secrets != nil {
				v, _ = c.Secrets(name)
			}
			secrets[name] = v
		case "needs":
			name := traverseName(t, 1)
			if name == "" {
				continue
			}
			outs, ok := needOutputs[name]
			if !ok {
				return nil, &model.EvalError{
					Expr: src,
					Msg:  fmt.Sprintf("job %q is not declared in needs", name),
				}
			}
			if traverseName(t, 2) == "outputs" {
				ensureKey(outs, traverseName(t, 3))
			}
		case "steps":
			id := traverseName(t, 1)
			if id == "" {
				continue
			}
			outs, ok := stepOutputs[id]
			if !ok {
				return nil, &model.EvalError{
					Expr: src,
					Msg:  fmt.Sprintf("no step with id %q", id),
				}
			}
			if traverseName(t, 2) == "outputs" {
				ensureKey(outs, traverseName(t, 3))
			}
		default:
			return nil, &model.EvalError{
				Expr: src,
				Msg:  fmt.Sprintf("unknown context %q", t.RootName()),
			}
		}
	}

	needVals := make(map[string]cty.Value, len(c.Needs))
	for name, n := range c.Needs {
		needVals[name] = cty.ObjectVal(map[string]cty.Value{
			"result":  cty.StringVal(n.Result),
			"outputs": stringObject(needOutputs[name]),
		})
	}
	stepVals := make(map[string]cty.Value, len(c.Steps))
	for id, s := range c.Steps {
		stepVals[id] = cty.ObjectVal(map[string]cty.Value{
			"outcome":    cty.StringVal(s.Outcome),
			"conclusion": cty.StringVal(s.Conclusion),
			"outputs":    stringObject(stepOutputs[id]),
		})
	}

	return map[string]cty.Value{
		"github":  stringObject(github),
		"inputs":  stringObject(inputs),
		"env":     stringObject(env),
		"secrets": stringObject(secrets),
		"needs":   objectOrEmpty(needVals),
		"steps":   objectOrEmpty(stepVals),
	}, nil
}

// traverseName returns the attribute or string-index name at position i of a
// traversal, or "" when the traversal is shorter or the index is not a
// string.
func traverseName(t hcl.Traversal, i int) string {
	if i >= len(t) {
		return ""
	}
	switch tr := t[i].(type) {
	case hcl.TraverseAttr:
		return tr.Name
	case hcl.TraverseIndex:
		if tr.Key.Type() == cty.String {
			return tr.Key.AsString()
		}
	}
	return ""
}

func ensureKey(m map[string]string, key string) {
	if key == "" {
		return
	}
	if _, ok := m[key]; !ok {
		m[key] = ""
	}
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringObject(m map[string]string) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	vals := make(map[string]cty.Value, len(m))
	for k, v := range m {
		vals[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(vals)
}

func objectOrEmpty(m map[string]cty.Value) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(m)
}
