package permissions

// Policy is a named, composable actor predicate used by route guards.
type Policy struct {
	name  string
	allow func(Actor) bool
}

func Require(name string, allow func(Actor) bool) Policy {
	return Policy{name: name, allow: allow}
}

func (p Policy) Name() string { return p.name }

func (p Policy) Allows(a Actor) bool { return p.allow != nil && p.allow(a) }

// AllOf passes when every policy passes.
func AllOf(name string, ps ...Policy) Policy {
	return Require(name, func(a Actor) bool {
		for _, p := range ps {
			if !p.Allows(a) {
				return false
			}
		}
		return len(ps) > 0
	})
}

// AnyOf passes when at least one policy passes.
func AnyOf(name string, ps ...Policy) Policy {
	return Require(name, func(a Actor) bool {
		for _, p := range ps {
			if p.Allows(a) {
				return true
			}
		}
		return false
	})
}

var (
	StaffOnly  = Require("staff", IsStaff)
	AdminOnly  = Require("admin", IsAdmin)
	ClientOnly = Require("client", IsClient)
)
