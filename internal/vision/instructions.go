package vision

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/extraction"
)

//go:embed instructions.tmpl
var defaultInstructionsTemplate string

type instructionsData struct {
	Fields         []string
	DosageForms    []string
	ContainerTypes []string
}

// LoadInstructions renders the extraction instructions. An empty path uses the
// built-in template; otherwise the template is read from path.
func LoadInstructions(path string) (string, error) {
	src := defaultInstructionsTemplate
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: failed to read instructions template from %s: %v",
				ErrInvalidConfig, path, err)
		}
		src = string(content)
	}
	return RenderInstructions(src)
}

// RenderInstructions executes an instructions template against the canonical
// field set and enumerations.
func RenderInstructions(src string) (string, error) {
	tmpl, err := template.New("instructions").
		Funcs(template.FuncMap{"join": strings.Join}).
		Parse(src)
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse instructions template: %v", ErrInvalidConfig, err)
	}

	data := instructionsData{Fields: extraction.CanonicalFields()}
	for _, f := range domain.DosageForms {
		data.DosageForms = append(data.DosageForms, string(f))
	}
	for _, c := range domain.ContainerTypes {
		data.ContainerTypes = append(data.ContainerTypes, string(c))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: failed to execute instructions template: %v", ErrInvalidConfig, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
