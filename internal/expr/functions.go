// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package expr

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// functions builds the per-evaluation function table. The four status
// functions close over the caller-computed Statuses snapshot; the string
// helpers are stateless.
func (c *Context) functions() map[string]function.Function {
	return map[string]function.Function{
		"success":    statusFunc(c.Status.Success),
		"failure":    statusFunc(c.Status.Failure),
		"cancelled":  statusFunc(c.Status.Cancelled),
		"always":     statusFunc(true),
		"contains":   containsFunc,
		"startsWith": startsWithFunc,
		"endsWith":   endsWithFunc,
		"format":     formatFunc,
		"join":       joinFunc,
	}
}

func statusFunc(v bool) function.Function {
	return function.New(&function.Spec{
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			return cty.BoolVal(v), nil
		},
	})
}

func stringPairPredicate(name string, pred func(a, b string) bool) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "haystack", Type: cty.String},
			{Name: "needle", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			return cty.BoolVal(pred(args[0].AsString(), args[1].AsString())), nil
		},
	})
}

var (
	containsFunc   = stringPairPredicate("contains", strings.Contains)
	startsWithFunc = stringPairPredicate("startsWith", strings.HasPrefix)
	endsWithFunc   = stringPairPredicate("endsWith", strings.HasSuffix)
)

// formatFunc substitutes positional {N} placeholders, e.g.
// format("{0}-{1}", a, b).
var formatFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "format", Type: cty.String},
	},
	VarParam: &function.Parameter{Name: "args", Type: cty.String},
	Type:     function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		out := args[0].AsString()
		for i, arg := range args[1:] {
			out = strings.ReplaceAll(out, fmt.Sprintf("{%d}", i), arg.AsString())
		}
		return cty.StringVal(out), nil
	},
})

var joinFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "list", Type: cty.List(cty.String)},
		{Name: "separator", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		var parts []string
		for it := args[0].ElementIterator(); it.Next(); {
			_, v := it.Element()
			parts = append(parts, v.AsString())
		}
		return cty.StringVal(strings.Join(parts, args[1].AsString())), nil
	},
})
