package agent

import (
	"log/slog"
	"os"
	"path/filepath"
)

// FallbackSystemPrompt is used when the project has no system prompt file.
const FallbackSystemPrompt = `# Chatooly Tool Builder Agent

You build interactive visual tools for the Chatooly platform.

## CRITICAL RULES (Never Break These)
1. Canvas MUST have id="chatooly-canvas"
2. NEVER modify CDN scripts or create export buttons
3. ALL visual content inside #chatooly-canvas
4. Use chatooly-* CSS classes (auto-styled by CDN)
5. Implement window.renderHighResolution(targetCanvas, scale) for exports
6. Connect background controls to Chatooly.backgroundManager

## File Responsibilities
- js/main.js: Canvas rendering, tool logic, animations, exports
- js/ui.js: UI interactions, control event listeners
- js/chatooly-config.js: Tool metadata only
- index.html: Add control sections using chatooly-section-card pattern

## On-Demand Rules
Detailed rule documents live in claude-rules/. Read the relevant file when you need specifics.

## Workflow
1. Ask clarifying questions about the tool
2. Plan the implementation
3. Read the relevant rule files for details
4. Implement in small, testable steps
5. Expose window.render or window.draw so edited scripts re-render in place
6. Check your work with Bash: curl -s http://localhost:3001/api/validate
   (use the server's PORT if it is not 3001) and fix every failed check`

// LoadSystemPrompt reads path (relative to root unless absolute) and falls back
// to FallbackSystemPrompt when it cannot be read.
func LoadSystemPrompt(root, path string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return FallbackSystemPrompt
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Info("Using built-in system prompt", "path", path, "error", err)
		return FallbackSystemPrompt
	}
	return string(data)
}
