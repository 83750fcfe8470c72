package gate

import (
	"path/filepath"
	"strings"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// checkLayer0 enforces the absolute blocklist. The protected set names
// the files that define enforcement itself; no phase, tier, or override
// reaches this far. Write and edit requests are matched on their target
// path; shell requests are matched on every write target the command
// line carries.
func (e *Engine) checkLayer0(req Request) Decision {
	switch req.Tool {
	case types.ToolWrite, types.ToolEdit:
		if hit := e.protectedMatch(req.Path); hit != "" {
			return block(GateLayer0, "%s is enforcement-defining and can never be modified by an agent", hit)
		}
	case types.ToolShell:
		for _, target := range shellWriteTargets(req.Command) {
			if hit := e.protectedMatch(target); hit != "" {
				return block(GateLayer0, "command writes to enforcement-defining path %s", hit)
			}
		}
	}
	return allow()
}

// protectedMatch returns the protected entry the path falls under, or ""
func (e *Engine) protectedMatch(path string) string {
	if path == "" {
		return ""
	}
	clean := filepath.ToSlash(filepath.Clean(path))
	clean = strings.TrimPrefix(clean, "./")

	for _, p := range e.protected {
		entry := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(p)), "./")
		if clean == entry || strings.HasPrefix(clean, entry+"/") {
			return entry
		}
		// Match by base name too, so relocated copies of protected
		// files stay out of reach.
		if filepath.Base(clean) == filepath.Base(entry) && strings.Contains(entry, ".") {
			return entry
		}
	}
	return ""
}
