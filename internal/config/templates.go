package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/charmbracelet/log"
)

//go:embed all:templates
var templateFS embed.FS

// templatesRoot is the top-level directory of the embedded FS.
const templatesRoot = "templates"

// requestsDir holds JSON request bodies rendered by RenderRequest. It is not
// a project template.
const requestsDir = "requests"

// ErrTemplateMissing means a template compiled into the binary could not be
// found. It indicates a packaging defect and is never retried.
var ErrTemplateMissing = errors.New("embedded template missing")

// TemplateVars holds variables available when rendering project templates.
type TemplateVars struct {
	// JiraURL is the tracker base URL, e.g. "https://acme.atlassian.net".
	JiraURL string
	// User is the account the API token belongs to.
	User string
	// Project is the Jira project key that owns executions and bugs.
	Project string
}

// ListTemplates returns the names of the embedded project templates.
func ListTemplates() ([]string, error) {
	entries, err := templateFS.ReadDir(templatesRoot)
	if err != nil {
		return nil, fmt.Errorf("reading templates directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && e.Name() != requestsDir {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// TemplateExists reports whether a project template with the given name is
// embedded.
func TemplateExists(name string) bool {
	if name == requestsDir {
		return false
	}
	info, err := fs.Stat(templateFS, templatesRoot+"/"+name)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// requestFuncs are available inside request templates. json encodes any
// value as a JSON literal so templates never hand-escape strings.
var requestFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
}

// RenderRequest renders the embedded request body requests/<name>.json.tmpl
// with data. A missing template wraps ErrTemplateMissing.
func RenderRequest(name string, data any) ([]byte, error) {
	embedPath := templatesRoot + "/" + requestsDir + "/" + name + ".json.tmpl"
	content, err := templateFS.ReadFile(embedPath)
	if err != nil {
		return nil, fmt.Errorf("request template %q: %w", name, ErrTemplateMissing)
	}

	tmpl, err := template.New(name).Funcs(requestFuncs).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parsing request template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("executing request template %s: %w", name, err)
	}
	if !json.Valid(buf.Bytes()) {
		return nil, fmt.Errorf("request template %s rendered invalid JSON", name)
	}
	return buf.Bytes(), nil
}

// RenderTemplate writes the named project template into destDir, rendering
// ".tmpl" files with vars and stripping the extension. Existing files are
// skipped unless force is set. It returns the paths it wrote.
func RenderTemplate(name string, destDir string, vars TemplateVars, force bool) ([]string, error) {
	if !TemplateExists(name) {
		return nil, fmt.Errorf("template %q not found", name)
	}

	templateDir := templatesRoot + "/" + name
	var created []string

	walkErr := fs.WalkDir(templateFS, templateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking template %s: %w", path, err)
		}

		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(filepath.FromSlash(templateDir), filepath.FromSlash(path))
		if err != nil {
			return fmt.Errorf("computing relative path for %s: %w", path, err)
		}

		destRel := relPath
		isTmpl := strings.HasSuffix(relPath, ".tmpl")
		if isTmpl {
			destRel = strings.TrimSuffix(relPath, ".tmpl")
		}

		destFile := filepath.Join(destDir, destRel)

		// Skip existing files unless force is set.
		if _, statErr := os.Stat(destFile); statErr == nil {
			if !force {
				log.Debug("skipping existing file", "path", destFile)
				return nil
			}
			log.Debug("overwriting existing file", "path", destFile)
		}

		if mkdirErr := os.MkdirAll(filepath.Dir(destFile), 0o755); mkdirErr != nil {
			return fmt.Errorf("creating directory for %s: %w", destFile, mkdirErr)
		}

		// embed.FS paths always use forward slashes.
		embedPath := filepath.ToSlash(path)
		content, readErr := templateFS.ReadFile(embedPath)
		if readErr != nil {
			return fmt.Errorf("reading embedded file %s: %w", embedPath, readErr)
		}

		var output []byte
		if isTmpl {
			tmpl, parseErr := template.New(d.Name()).Parse(string(content))
			if parseErr != nil {
				return fmt.Errorf("parsing template %s: %w", embedPath, parseErr)
			}
			var buf bytes.Buffer
			if execErr := tmpl.Execute(&buf, vars); execErr != nil {
				return fmt.Errorf("executing template %s: %w", embedPath, execErr)
			}
			output = buf.Bytes()
		} else {
			output = content
		}

		if writeErr := os.WriteFile(destFile, output, 0o600); writeErr != nil {
			return fmt.Errorf("writing file %s: %w", destFile, writeErr)
		}

		log.Debug("wrote config", "path", destFile)
		created = append(created, destFile)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return created, nil
}
