package types

// Role identifies an agent specialty. Roles form a closed set; each role
// carries a static capability record resolved at compile time.
type Role string

const (
	RoleOrchestrator     Role = "orchestrator"
	RoleDesigner         Role = "designer"
	RoleImplementer      Role = "implementer"
	RoleTester           Role = "tester"
	RoleSecurity         Role = "security"
	RoleSpecValidator    Role = "spec_validator"
	RoleQualityValidator Role = "quality_validator"
)

// IsValid checks if the role is a known role
func (r Role) IsValid() bool {
	_, ok := capabilities[r]
	return ok
}

// ContextField names a slice of the prompt/context bundle handed to a
// worker. The blind wall excludes fields a role must not see.
type ContextField string

const (
	FieldGoal              ContextField = "goal"
	FieldSpec              ContextField = "spec"
	FieldTaskBrief         ContextField = "task_brief"
	FieldImplementation    ContextField = "implementation_source"
	FieldTestSource        ContextField = "test_source"
	FieldTestOutput        ContextField = "test_output"
	FieldValidatorFeedback ContextField = "validator_feedback"
	FieldPeerReasoning     ContextField = "peer_reasoning"
)

// Tool names a side-effecting operation class gated by the enforcement
// engine before execution.
type Tool string

const (
	ToolWrite Tool = "write"
	ToolEdit  Tool = "edit"
	ToolShell Tool = "shell"
	ToolSpawn Tool = "spawn"
)

// Capability is the static record attached to each role: which tools it
// may request, which context fields the blind wall withholds from it, and
// which validator roles must pass before its output is marked complete.
type Capability struct {
	Tools      []Tool
	BlindWall  []ContextField
	Validators []Role
}

// capabilities is the closed role table. An implementer never sees test
// source or tester output; a tester never sees implementation source. Both
// are shielded from peer reasoning to preserve independent judgment.
var capabilities = map[Role]Capability{
	RoleOrchestrator: {
		Tools: []Tool{ToolSpawn, ToolShell},
	},
	RoleDesigner: {
		Tools:     []Tool{ToolWrite, ToolEdit},
		BlindWall: []ContextField{FieldPeerReasoning},
	},
	RoleImplementer: {
		Tools:      []Tool{ToolWrite, ToolEdit, ToolShell},
		BlindWall:  []ContextField{FieldTestSource, FieldTestOutput, FieldPeerReasoning},
		Validators: []Role{RoleSpecValidator, RoleQualityValidator},
	},
	RoleTester: {
		Tools:      []Tool{ToolWrite, ToolEdit, ToolShell},
		BlindWall:  []ContextField{FieldImplementation, FieldPeerReasoning},
		Validators: []Role{RoleQualityValidator},
	},
	RoleSecurity: {
		Tools:     []Tool{ToolShell},
		BlindWall: []ContextField{FieldPeerReasoning},
	},
	RoleSpecValidator: {
		Tools: []Tool{ToolShell},
	},
	RoleQualityValidator: {
		Tools: []Tool{ToolShell},
	},
}

// CapabilityFor returns the static capability record for a role. Unknown
// roles get an empty capability: no tools, which fails closed at the gate.
func CapabilityFor(role Role) Capability {
	return capabilities[role]
}

// ValidatorsFor returns the validator roles mapped to a worker role.
// Roles with no mapped validators complete directly.
func ValidatorsFor(role Role) []Role {
	return capabilities[role].Validators
}

// Excluded reports whether the blind wall withholds the given context
// field from the role.
func (c Capability) Excluded(field ContextField) bool {
	for _, f := range c.BlindWall {
		if f == field {
			return true
		}
	}
	return false
}

// AllowsTool reports whether the role may request the given tool at all
func (c Capability) AllowsTool(tool Tool) bool {
	for _, t := range c.Tools {
		if t == tool {
			return true
		}
	}
	return false
}
