package filechange

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		file string
		want Role
	}{
		{"js/main.js", MainScript},
		{"js/ui.js", UIScript},
		{"js/ai-sidebar.js", SidebarScript},
		{"js/chatooly-config.js", Script},
		{"index.html", Markup},
		{"pages/About.HTML", Markup},
		{"css/styles.css", Style},
		{"README.md", Other},
		{`js\main.js`, MainScript},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			if got := Classify(tt.file); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}
}

func TestRole_IsScript(t *testing.T) {
	for _, r := range []Role{MainScript, UIScript, SidebarScript, Script} {
		if !r.IsScript() {
			t.Errorf("%q should be a script role", r)
		}
	}
	for _, r := range []Role{Markup, Style, Other} {
		if r.IsScript() {
			t.Errorf("%q should not be a script role", r)
		}
	}
}
