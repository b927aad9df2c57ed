package params

import (
	"regexp"
	"strings"

	"github.com/crucial707/juport/internal/models"
)

var artifactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.to_excel\(\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`\.to_csv\(\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`\.to_json\(\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`\.savefig\(\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`\bopen\(\s*['"]([^'"]+)['"]\s*,\s*['"][wa]b?['"]`),
}

// DetectArtifacts lists the relative file names the code writes through
// common pandas, matplotlib and open() calls, without duplicates.
func DetectArtifacts(code ...string) []models.ExpectedFile {
	var out []models.ExpectedFile
	seen := make(map[string]bool)
	for _, c := range code {
		for _, re := range artifactPatterns {
			for _, m := range re.FindAllStringSubmatchIndex(c, -1) {
				name := c[m[2]:m[3]]
				if seen[name] || strings.HasPrefix(name, "/") || strings.Contains(name, "://") || strings.Contains(name, "..") {
					continue
				}
				seen[name] = true
				out = append(out, models.ExpectedFile{Name: name, Description: "detected from notebook source"})
			}
		}
	}
	return out
}
