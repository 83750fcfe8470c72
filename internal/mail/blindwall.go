package mail

import (
	"fmt"
	"sort"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// ContextBundle is the material assembled for one worker before its
// prompt is built, keyed by context field. The blind wall filters it
// before any prompt assembly happens; nothing downstream of
// FilterForRole re-checks exclusions.
type ContextBundle map[types.ContextField]string

// FilterForRole returns a copy of the bundle with every field the
// role's blind wall excludes removed. The exclusion list is the role's
// declared capability, not a per-call filter.
func FilterForRole(role types.Role, bundle ContextBundle) ContextBundle {
	cap := types.CapabilityFor(role)
	filtered := make(ContextBundle, len(bundle))
	for field, content := range bundle {
		if cap.Excluded(field) {
			continue
		}
		filtered[field] = content
	}
	return filtered
}

// Render flattens a filtered bundle into prompt text with a stable
// field order
func Render(bundle ContextBundle) string {
	fields := make([]string, 0, len(bundle))
	for f := range bundle {
		fields = append(fields, string(f))
	}
	sort.Strings(fields)

	var out string
	for _, f := range fields {
		out += fmt.Sprintf("## %s\n%s\n\n", f, bundle[types.ContextField(f)])
	}
	return out
}
