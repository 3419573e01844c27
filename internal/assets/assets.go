// Package assets provides embedded static content for the control surface.
// Using Go's embed package keeps deployment to a single binary.
package assets

import (
	"bytes"
	"embed"
	"html"
	"html/template"
	"io/fs"
	"regexp"
)

// Templates embeds all HTML templates.
//
//go:embed templates/*.html
var Templates embed.FS

// GetTemplate parses and returns a named template from the embedded filesystem.
func GetTemplate(name string) (*template.Template, error) {
	return template.ParseFS(Templates, "templates/"+name)
}

// ReadTemplate returns the raw content of a template file.
func ReadTemplate(name string) ([]byte, error) {
	return fs.ReadFile(Templates, "templates/"+name)
}

// versionSanitizer strips characters that could carry markup into the page.
// The version string arrives via build-time ldflags, which is attacker
// controllable in some build pipelines.
var versionSanitizer = regexp.MustCompile(`[^a-zA-Z0-9.\-_+]`)

// SanitizeVersion sanitizes a version string before it reaches HTML.
// Returns "unknown" if nothing survives sanitization.
func SanitizeVersion(version string) string {
	escaped := html.EscapeString(version)
	sanitized := versionSanitizer.ReplaceAllString(escaped, "")
	if sanitized == "" {
		return "unknown"
	}
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}
	return sanitized
}

// AdminPageData carries the values rendered into the admin panel.
type AdminPageData struct {
	Version       string
	GoVersion     string
	Running       bool
	Authenticated bool
	Uptime        string
	ChecksTotal   int64
	MessagesSent  int64
	KnownRanges   int
	CachedNumbers int
	LastError     string
}

var adminPageTemplate = template.Must(template.ParseFS(Templates, "templates/admin.html"))

// RenderAdminPage renders the admin panel. All values pass through
// html/template's auto-escaping; the version is additionally pre-sanitized.
func RenderAdminPage(data AdminPageData) (string, error) {
	data.Version = SanitizeVersion(data.Version)

	var buf bytes.Buffer
	if err := adminPageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
