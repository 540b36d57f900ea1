package host

import "fmt"

// ActionPolicy controls which actions scripts may call. A nil Allowed set
// means "allow all".
type ActionPolicy struct {
	Allowed map[string]bool // nil = allow all
	Denied  map[string]bool
}

// NewPermissivePolicy creates a policy that allows every action.
func NewPermissivePolicy() *ActionPolicy {
	return &ActionPolicy{}
}

// NewPolicy creates a policy from allow and deny lists. An empty allow list
// allows everything not denied.
func NewPolicy(allow, deny []string) *ActionPolicy {
	p := &ActionPolicy{}
	if len(allow) > 0 {
		p.Allowed = make(map[string]bool, len(allow))
		for _, name := range allow {
			p.Allowed[name] = true
		}
	}
	for _, name := range deny {
		p.Deny(name)
	}
	return p
}

// Check returns an error if the named action may not be called.
func (p *ActionPolicy) Check(name string) error {
	if p == nil {
		return nil
	}
	if p.Denied[name] {
		return fmt.Errorf("action %q is explicitly denied", name)
	}
	if p.Allowed != nil && !p.Allowed[name] {
		return fmt.Errorf("action %q is not allowed", name)
	}
	return nil
}

// Deny adds an action to the deny list.
func (p *ActionPolicy) Deny(name string) {
	if p.Denied == nil {
		p.Denied = make(map[string]bool)
	}
	p.Denied[name] = true
}
