package template

import "strings"

// Placeholder is a named value substituted into a template.
type Placeholder struct {
	Name  string
	Value string
}

// Substitute replaces every occurrence of each placeholder name with its value,
// applying placeholders in order. Names that are substrings of one another
// interact and should be avoided.
func Substitute(content string, placeholders []Placeholder) string {
	for _, p := range placeholders {
		if p.Name == "" {
			continue
		}
		content = strings.ReplaceAll(content, p.Name, p.Value)
	}
	return content
}
