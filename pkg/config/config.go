package config

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v2"
)

// FromFile reads the YAML config at filePath into cfg. The file is first
// rendered as a text/template with the process environment as data, then
// passed through os.ExpandEnv, so both {{.HOME}} and $HOME style references
// work. Unknown keys are rejected.
func FromFile(filePath string, cfg interface{}) error {
	envMap := make(map[string]string)
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		envMap[pair[0]] = pair[1]
	}

	t, err := template.ParseFiles(filePath)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", filePath, err)
	}
	rendered := &strings.Builder{}
	if err := t.Execute(rendered, envMap); err != nil {
		return fmt.Errorf("render config %s: %w", filePath, err)
	}

	content := os.ExpandEnv(rendered.String())
	if err := yaml.UnmarshalStrict([]byte(content), cfg); err != nil {
		return fmt.Errorf("unmarshal config %s: %w", filePath, err)
	}
	return nil
}
