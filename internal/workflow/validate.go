package workflow

import (
	"fmt"

	"github.com/vk/flowgrid/internal/expr"
	"github.com/vk/flowgrid/internal/model"
)

// Validate checks the structural integrity of a workflow: every `needs`
// entry names a defined job, step ids are unique within their job, bound
// environments exist, and every expression parses. Cycle detection is the
// run controller's concern; it needs the built graph.
func Validate(w *Workflow) error {
	if len(w.Jobs) == 0 {
		return invalid("no jobs defined")
	}

	// Workflow-level env is shared across every job before any secret
	// scope or masker exists, so secret references there are rejected
	// rather than resolved.
	for key, tmpl := range w.Env {
		if err := expr.CheckTemplate(tmpl); err != nil {
			return invalid("workflow env %q: %v", key, err)
		}
		roots, err := expr.TemplateRoots(tmpl)
		if err != nil {
			return invalid("workflow env %q: %v", key, err)
		}
		for _, root := range roots {
			if root == "secrets" {
				return invalid("workflow env %q must not reference secrets; use job or step env instead", key)
			}
		}
	}

	for _, name := range w.JobNames() {
		j := w.Jobs[name]

		for _, dep := range j.Needs {
			if dep == name {
				return invalid("job %q needs itself", name)
			}
			if _, ok := w.Jobs[dep]; !ok {
				return invalid("job %q needs undefined job %q", name, dep)
			}
		}

		if env := j.Environment.Name; env != "" {
			if _, ok := w.Environments[env]; !ok {
				return invalid("job %q references undefined environment %q", name, env)
			}
		}

		if err := expr.CheckCondition(j.If); err != nil {
			return invalid("job %q: if: %v", name, err)
		}
		for key, tmpl := range j.Outputs {
			if err := expr.CheckTemplate(tmpl); err != nil {
				return invalid("job %q: output %q: %v", name, key, err)
			}
		}
		for key, tmpl := range j.Env {
			if err := expr.CheckTemplate(tmpl); err != nil {
				return invalid("job %q: env %q: %v", name, key, err)
			}
		}

		if len(j.Steps) == 0 {
			return invalid("job %q has no steps", name)
		}
		seen := make(map[string]struct{}, len(j.Steps))
		for i, s := range j.Steps {
			if s.Run == "" {
				return invalid("job %q: step %d has no run command", name, i+1)
			}
			if s.ID != "" {
				if _, dup := seen[s.ID]; dup {
					return invalid("job %q: duplicate step id %q", name, s.ID)
				}
				seen[s.ID] = struct{}{}
			}
			if err := expr.CheckCondition(s.If); err != nil {
				return invalid("job %q: step %d: if: %v", name, i+1, err)
			}
			if err := expr.CheckTemplate(s.Run); err != nil {
				return invalid("job %q: step %d: run: %v", name, i+1, err)
			}
			for key, tmpl := range s.Env {
				if err := expr.CheckTemplate(tmpl); err != nil {
					return invalid("job %q: step %d: env %q: %v", name, i+1, key, err)
				}
			}
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return &model.ValidationError{Msg: fmt.Sprintf(format, args...)}
}
