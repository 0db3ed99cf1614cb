package command

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Declarations are the inputs, outputs and parameters a task declares before
// its command line is parsed. Keys map to file extensions ("" matches any).
type Declarations struct {
	Inputs  map[string]string
	Outputs map[string]string
	Params  map[string]Param
}

// Template is a parsed command line plus the full set of inputs, outputs and
// parameters it references, including ones discovered while parsing.
type Template struct {
	Command List
	Exe     string
	Inputs  map[string]string
	Outputs map[string]string
	Params  map[string]Param
}

// Args renders the command for one invocation.
func (t *Template) Args(inv *Invocation) ([]string, error) {
	return t.Command.Args(inv)
}

// ParamNames lists referenced parameters, sorted.
func (t *Template) ParamNames() []string {
	names := make([]string, 0, len(t.Params))
	for name := range t.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse builds a Template from a whitespace separated command line.
//
// Tokens of the form ${key} are replaced: ${exe} (or ${<exe>}) by the
// executable, declared inputs/outputs by their paths, declared params by their
// values. Unknown keys starting with "input" or "output" declare a new input or
// output whose extension follows the first dot (${input.tsv}); any other
// unknown key becomes a required parameter. Literal tokens that name a file in
// moduleDir become module-relative paths. Without an explicit exe the first
// literal is the executable.
func Parse(command, exe, moduleDir string, decl Declarations) (*Template, error) {
	command = strings.TrimSpace(command)
	if command == "" && exe == "" {
		return nil, fmt.Errorf("command is empty")
	}

	t := &Template{
		Exe:     exe,
		Inputs:  copyExts(decl.Inputs),
		Outputs: copyExts(decl.Outputs),
		Params:  make(map[string]Param, len(decl.Params)),
	}
	for k, v := range decl.Params {
		if v.Name == "" {
			v.Name = k
		}
		t.Params[k] = v
	}

	var converters []Converter
	if command == "" {
		converters = append(converters, Exe{Name: exe})
	}

	for _, part := range strings.Fields(command) {
		if strings.HasPrefix(part, "${") && strings.HasSuffix(part, "}") && len(part) > 3 {
			converters = append(converters, t.token(part[2:len(part)-1]))
			continue
		}

		if t.Exe == "" {
			t.Exe = part
			converters = append(converters, Exe{Name: part})
			continue
		}
		if moduleDir != "" && moduleResource(moduleDir, part) {
			converters = append(converters, Path{Function: FunctionModule, Key: filepath.ToSlash(part)})
			continue
		}
		converters = append(converters, Literal{Value: part})
	}

	if t.Exe == "" {
		return nil, fmt.Errorf("command %q has no executable", command)
	}
	t.Command = List{Converters: converters}
	return t, nil
}

func (t *Template) token(key string) Converter {
	switch {
	case key == "exe" || (t.Exe != "" && key == t.Exe):
		return Exe{Name: t.Exe}
	case hasKey(t.Inputs, key):
		return Path{Function: FunctionInput, Key: key}
	case hasKey(t.Outputs, key):
		return Path{Function: FunctionOutput, Key: key}
	}
	if p, ok := t.Params[key]; ok {
		return p
	}

	switch {
	case strings.HasPrefix(key, "input"):
		t.Inputs[key] = extensionOf(key)
		return Path{Function: FunctionInput, Key: key}
	case strings.HasPrefix(key, "output"):
		t.Outputs[key] = extensionOf(key)
		return Path{Function: FunctionOutput, Key: key}
	}

	p := Param{Name: key}
	t.Params[key] = p
	return p
}

func extensionOf(key string) string {
	if i := strings.Index(key, "."); i >= 0 {
		return key[i:]
	}
	return ""
}

func moduleResource(moduleDir, part string) bool {
	if filepath.IsAbs(part) || strings.HasPrefix(part, "-") {
		return false
	}
	info, err := os.Stat(filepath.Join(moduleDir, filepath.FromSlash(part)))
	return err == nil && !info.IsDir()
}

func hasKey(m map[string]string, key string) bool {
	_, ok := m[key]
	return ok
}

func copyExts(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
