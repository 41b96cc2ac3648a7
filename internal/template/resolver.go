// Package template resolves the query templates executed against each platform version.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/security"
)

// VersionPlaceholder is replaced by the platform version inside template names,
// so one name can address per-version template files.
const VersionPlaceholder = "${version}"

// Resolver returns the content of the template to run for a version.
type Resolver interface {
	// Resolve picks template when set, defaultTemplate otherwise.
	Resolve(defaultTemplate, template, version string) (string, error)
}

// FileResolver reads templates from a folder, preferring a subfolder named
// after the version when one exists.
type FileResolver struct {
	folder string
}

// NewFileResolver creates a resolver rooted at folder.
func NewFileResolver(folder string) (*FileResolver, error) {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return nil, errors.ConfigurationError("resolving template folder", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.ConfigurationError(fmt.Sprintf("unable to read query template directory %s", abs), err)
	}
	if !info.IsDir() {
		return nil, errors.ValidationError(fmt.Sprintf("query template path %s is not a directory", abs))
	}
	return &FileResolver{folder: abs}, nil
}

// Folder returns the base template folder.
func (r *FileResolver) Folder() string {
	return r.folder
}

// Resolve reads the template content for version.
func (r *FileResolver) Resolve(defaultTemplate, template, version string) (string, error) {
	path, err := r.Path(defaultTemplate, template, version)
	if err != nil {
		return "", err
	}
	return readTemplate(path)
}

// Path returns the absolute path of the template file for version.
func (r *FileResolver) Path(defaultTemplate, template, version string) (string, error) {
	name := template
	if name == "" {
		name = defaultTemplate
	}
	if name == "" {
		return "", errors.NotFoundError("query template name")
	}

	if strings.Contains(name, VersionPlaceholder) {
		name = strings.ReplaceAll(name, VersionPlaceholder, version)
	}
	if err := security.ValidateRelativeName("query template", name); err != nil {
		return "", err
	}
	return filepath.Join(r.versionFolder(version), name), nil
}

func (r *FileResolver) versionFolder(version string) string {
	if version == "" {
		return r.folder
	}
	candidate := filepath.Join(r.folder, version)
	info, err := os.Stat(candidate)
	if err != nil || !info.IsDir() {
		return r.folder
	}
	// Unreadable version folders fall back to the base folder.
	f, err := os.Open(candidate)
	if err != nil {
		return r.folder
	}
	f.Close()
	return candidate
}

func readTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(errors.CodeNotFound, fmt.Sprintf("reading query template %s", path), err)
	}
	return string(data), nil
}
