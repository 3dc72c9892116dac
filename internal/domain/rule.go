package domain

// CriticalityRule assigns a criticality class to groups matching a CEL expression.
//
// Available variables:
//   - group_name (string)
//   - domain (string)
//   - total_members (int)
//
// Example: group_name.startsWith("Tier0-") || total_members > 50
type CriticalityRule struct {
	Name       string           `yaml:"name" json:"name" validate:"required"`
	Expression string           `yaml:"expression" json:"expression" validate:"required"`
	Class      CriticalityClass `yaml:"class" json:"class" validate:"required"`
}
