package tools

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	Megahit   = "megahit"
	Shell     = "sh"
	KtImport  = "ktImportText"
	Git       = "git"
	envPrefix = "TOOL_"
)

// Locator resolves tool names to executables. Explicit overrides (tools file,
// then TOOL_<NAME> environment variables) take precedence over PATH lookup.
type Locator struct {
	overrides map[string]string
	lookPath  func(string) (string, error)
}

type toolsFile struct {
	Tools map[string]string `yaml:"tools"`
}

func NewLocator(overrides map[string]string) *Locator {
	o := make(map[string]string, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &Locator{overrides: o, lookPath: exec.LookPath}
}

// LoadLocator builds a locator from an optional YAML tools file of the form
//
//	tools:
//	  megahit: /programs/MEGAHIT/bin/megahit
//	  ktImportText: /programs/Krona-2.8/bin/ktImportText
//
// followed by TOOL_<NAME> environment overrides, e.g. TOOL_KTIMPORTTEXT.
func LoadLocator(path string) (*Locator, error) {
	overrides := map[string]string{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading tools file %s: %w", path, err)
		}
		var tf toolsFile
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("error parsing tools file %s: %w", path, err)
		}
		for name, p := range tf.Tools {
			overrides[name] = p
		}
	}

	for _, name := range []string{Megahit, Shell, KtImport, Git} {
		if p, ok := os.LookupEnv(envPrefix + strings.ToUpper(name)); ok && p != "" {
			overrides[name] = p
		}
	}

	return NewLocator(overrides), nil
}

func (l *Locator) Path(name string) (string, error) {
	target := name
	if p, ok := l.overrides[name]; ok {
		target = p
	}

	path, err := l.lookPath(target)
	if err != nil {
		return "", fmt.Errorf("tool %s not found (looked for %s): %w", name, target, err)
	}
	return path, nil
}

// Require checks that every named tool resolves, reporting all missing tools
// at once.
func (l *Locator) Require(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, err := l.Path(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)
	hints := make([]string, len(missing))
	for i, m := range missing {
		hints[i] = fmt.Sprintf("%s (set %s%s or add it to the tools file)", m, envPrefix, strings.ToUpper(m))
	}
	return fmt.Errorf("required tools not found: %s", strings.Join(hints, "; "))
}

// MustPath is Path for tools already checked with Require. It panics when the
// tool cannot be resolved.
func (l *Locator) MustPath(name string) string {
	p, err := l.Path(name)
	if err != nil {
		panic(err)
	}
	return p
}
