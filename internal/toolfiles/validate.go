package toolfiles

import (
	"os"
	"path/filepath"
	"strings"
)

// Check is one convention check.
type Check struct {
	Name string `json:"name"`
	Pass bool   `json:"pass"`
	File string `json:"file"`
}

// Report summarises a validation run.
type Report struct {
	Passed int     `json:"passed"`
	Total  int     `json:"total"`
	Checks []Check `json:"checks"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Passed == r.Total }

// Validate inspects index.html and js/main.js under root.
func Validate(root string) Report {
	var checks []Check

	if html, err := os.ReadFile(filepath.Join(root, "index.html")); err == nil {
		s := string(html)
		checks = append(checks,
			Check{`Canvas has id="chatooly-canvas"`, strings.Contains(s, `id="chatooly-canvas"`), "index.html"},
			Check{"CDN script intact", strings.Contains(s, "chatooly-cdn/js/core.min.js"), "index.html"},
			Check{"Uses chatooly-section-card pattern", strings.Contains(s, "chatooly-section-card"), "index.html"},
			Check{"Background controls present", strings.Contains(s, "transparent-bg") && strings.Contains(s, "bg-color"), "index.html"},
		)
	} else {
		checks = append(checks, Check{"index.html exists", false, "index.html"})
	}

	if js, err := os.ReadFile(filepath.Join(root, "js", "main.js")); err == nil {
		s := string(js)
		checks = append(checks,
			Check{"High-res export function defined", strings.Contains(s, "renderHighResolution"), "js/main.js"},
			Check{"Background manager initialized", strings.Contains(s, "backgroundManager"), "js/main.js"},
			Check{"Canvas dimensions set", strings.Contains(s, "canvas.width") && strings.Contains(s, "canvas.height"), "js/main.js"},
		)
	}

	r := Report{Total: len(checks), Checks: checks}
	for _, c := range checks {
		if c.Pass {
			r.Passed++
		}
	}
	return r
}
