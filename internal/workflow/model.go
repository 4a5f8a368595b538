// Package workflow defines the declarative workflow document the engine
// consumes and its YAML loading and validation.
package workflow

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Workflow is one parsed workflow definition.
type Workflow struct {
	Name         string                 `yaml:"name"`
	On           Triggers               `yaml:"on"`
	Env          map[string]string      `yaml:"env"`
	Environments map[string]Environment `yaml:"environments"`
	Jobs         map[string]Job         `yaml:"jobs"`
}

// JobNames returns job identifiers in stable lexical order.
func (w *Workflow) JobNames() []string {
	names := make([]string, 0, len(w.Jobs))
	for name := range w.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Environment carries the protection rules of one named environment.
type Environment struct {
	RequiredReviewers int      `yaml:"required-reviewers"`
	WaitTimerMinutes  int      `yaml:"wait-timer-minutes"`
	// Branches restricts deployable refs; empty means no restriction.
	// Patterns match path.Match against the ref with an optional
	// "refs/heads/" prefix stripped.
	Branches []string `yaml:"branches"`
}

// WaitTimer returns the configured wait timer as a duration.
func (e Environment) WaitTimer() time.Duration {
	return time.Duration(e.WaitTimerMinutes) * time.Minute
}

// Protected reports whether the environment imposes any gate at all.
func (e Environment) Protected() bool {
	return e.RequiredReviewers > 0 || e.WaitTimerMinutes > 0 || len(e.Branches) > 0
}

// Job is one node of the workflow graph.
type Job struct {
	Name        string            `yaml:"name"`
	Needs       StringList        `yaml:"needs"`
	If          string            `yaml:"if"`
	Environment EnvironmentRef    `yaml:"environment"`
	Env         map[string]string `yaml:"env"`
	Outputs     map[string]string `yaml:"outputs"`
	Steps       []Step            `yaml:"steps"`
}

// Step is one ordered unit inside a job.
type Step struct {
	ID               string            `yaml:"id"`
	Name             string            `yaml:"name"`
	If               string            `yaml:"if"`
	Run              string            `yaml:"run"`
	Shell            string            `yaml:"shell"`
	WorkingDirectory string            `yaml:"working-directory"`
	Env              map[string]string `yaml:"env"`
	ContinueOnError  bool              `yaml:"continue-on-error"`
	TimeoutMinutes   int               `yaml:"timeout-minutes"`
}

// Timeout returns the step's execution budget, zero when unset.
func (s Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// StringList accepts either a YAML scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		*l = StringList(ss)
		return nil
	}
	return fmt.Errorf("line %d: expected string or list of strings", node.Line)
}

// EnvironmentRef accepts `environment: prod` or `environment: {name: prod}`.
type EnvironmentRef struct {
	Name string `yaml:"name"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *EnvironmentRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&r.Name)
	}
	type plain EnvironmentRef
	return node.Decode((*plain)(r))
}

// Triggers is the set of event names a workflow responds to. YAML forms
// `on: push`, `on: [push, pull_request]`, and the mapping form with
// per-event filters all reduce to the event-name set.
type Triggers []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Triggers) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode, yaml.SequenceNode:
		var list StringList
		if err := list.UnmarshalYAML(node); err != nil {
			return err
		}
		*t = Triggers(list)
		return nil
	case yaml.MappingNode:
		var names []string
		for i := 0; i < len(node.Content); i += 2 {
			names = append(names, node.Content[i].Value)
		}
		sort.Strings(names)
		*t = Triggers(names)
		return nil
	}
	return fmt.Errorf("line %d: malformed trigger declaration", node.Line)
}

// Declares reports whether the workflow listens to the given event.
func (t Triggers) Declares(event string) bool {
	for _, name := range t {
		if name == event {
			return true
		}
	}
	return false
}
