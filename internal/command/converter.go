// Package command turns a task's configuration into an external process
// invocation. A command is a list of converters; each converter contributes
// zero or more argv tokens resolved against one Invocation.
package command

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrMissingParam is returned when a required job parameter has no value.
var ErrMissingParam = errors.New("missing required parameter")

// Function says where a path token is resolved from.
type Function string

const (
	FunctionInput  Function = "input"
	FunctionOutput Function = "output"
	FunctionModule Function = "module"
)

// Invocation is everything a converter may read while building argv.
type Invocation struct {
	Params map[string]string
	// Inputs maps an input key to the job files bound to it.
	Inputs map[string][]string
	// Outputs maps an output key to the file the task must produce.
	Outputs   map[string]string
	WorkDir   string
	ModuleDir string
	ToolsDir  string
	JavaPath  string
}

// Converter contributes argv tokens.
type Converter interface {
	Args(inv *Invocation) ([]string, error)
}

// Literal is a fixed token.
type Literal struct {
	Value string
}

func (l Literal) Args(*Invocation) ([]string, error) {
	if l.Value == "" {
		return nil, nil
	}
	return []string{l.Value}, nil
}

// Param is the value of a job parameter, optionally behind a switch.
type Param struct {
	Name     string
	Switch   string
	Format   SwitchFormat
	Optional bool
	Default  string
}

func (p Param) Args(inv *Invocation) ([]string, error) {
	value, ok := inv.Params[p.Name]
	if !ok || value == "" {
		value = p.Default
	}
	if value == "" {
		if p.Optional {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrMissingParam, p.Name)
	}
	if p.Switch == "" {
		return []string{value}, nil
	}
	return formatOrDefault(p.Format).Format(p.Switch, value), nil
}

// Path resolves a file reference.
type Path struct {
	Function Function
	Key      string
	Switch   string
	Format   SwitchFormat
	Optional bool
}

func (p Path) Args(inv *Invocation) ([]string, error) {
	var paths []string
	switch p.Function {
	case FunctionInput:
		paths = inv.Inputs[p.Key]
	case FunctionOutput:
		if out, ok := inv.Outputs[p.Key]; ok {
			paths = []string{out}
		}
	case FunctionModule:
		paths = []string{filepath.Join(inv.ModuleDir, filepath.FromSlash(p.Key))}
	default:
		return nil, fmt.Errorf("unknown path function %q", p.Function)
	}

	if len(paths) == 0 {
		if p.Optional {
			return nil, nil
		}
		return nil, fmt.Errorf("no %s path bound to %q", p.Function, p.Key)
	}

	var out []string
	for _, path := range paths {
		if p.Switch == "" {
			out = append(out, path)
			continue
		}
		out = append(out, formatOrDefault(p.Format).Format(p.Switch, path)...)
	}
	return out, nil
}

// Exe names the executable. Relative names found under the tools directory
// are resolved there; anything else is left for PATH lookup.
type Exe struct {
	Name string
}

func (e Exe) Args(inv *Invocation) ([]string, error) {
	if strings.TrimSpace(e.Name) == "" {
		return nil, fmt.Errorf("executable name is empty")
	}
	return []string{resolveTool(inv.ToolsDir, e.Name)}, nil
}

// List concatenates converters in order.
type List struct {
	Converters []Converter
}

func (l List) Args(inv *Invocation) ([]string, error) {
	var out []string
	for i, c := range l.Converters {
		args, err := c.Args(inv)
		if err != nil {
			return nil, fmt.Errorf("arg[%d]: %w", i, err)
		}
		out = append(out, args...)
	}
	return out, nil
}

func resolveTool(toolsDir, name string) string {
	if toolsDir == "" || filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	candidate := filepath.Join(toolsDir, name)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return name
}
