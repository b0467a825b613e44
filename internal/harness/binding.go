package harness

import "fmt"

// Binding selects how a test script gets access to its check.
type Binding string

const (
	// BindingImplicit loads the sibling check script before the test script.
	BindingImplicit Binding = "implicit"
	// BindingExplicit leaves loading the check to the test script.
	BindingExplicit Binding = "explicit"
)

// ParseBinding validates a binding mode name. The empty string selects
// BindingImplicit.
func ParseBinding(s string) (Binding, error) {
	switch Binding(s) {
	case "", BindingImplicit:
		return BindingImplicit, nil
	case BindingExplicit:
		return BindingExplicit, nil
	default:
		return "", fmt.Errorf("unknown binding mode %q (want %q or %q)", s, BindingImplicit, BindingExplicit)
	}
}
