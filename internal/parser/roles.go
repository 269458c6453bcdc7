package parser

import "strings"

// Role is an architectural role inferred from naming conventions
type Role string

const (
	RoleNone        Role = ""
	RoleAggregate   Role = "aggregate"
	RoleEntity      Role = "entity"
	RoleValueObject Role = "value object"
	RoleRepository  Role = "repository"
	RoleService     Role = "service"
	RoleCommand     Role = "command"
	RoleQuery       Role = "query"
	RoleHandler     Role = "handler"
	RoleTest        Role = "test"
)

var roleSuffixes = []struct {
	suffixes []string
	role     Role
}{
	{[]string{"AggregateRoot", "Aggregate"}, RoleAggregate},
	{[]string{"Entity"}, RoleEntity},
	{[]string{"ValueObject", "VO"}, RoleValueObject},
	{[]string{"Repository", "Repo", "Store"}, RoleRepository},
	{[]string{"Service"}, RoleService},
	{[]string{"Command", "Cmd"}, RoleCommand},
	{[]string{"Query"}, RoleQuery},
	{[]string{"Handler"}, RoleHandler},
}

// classifyRole infers a role for type-like symbols and test functions
func classifyRole(sym *Symbol) {
	switch sym.Kind {
	case KindFunction, KindMethod:
		if strings.HasPrefix(sym.Name, "Test") || strings.HasPrefix(sym.Name, "test_") {
			sym.Role = RoleTest
		}
		return
	case KindStruct, KindInterface, KindType, KindClass:
	default:
		return
	}

	for _, rs := range roleSuffixes {
		for _, suffix := range rs.suffixes {
			if strings.HasSuffix(sym.Name, suffix) && sym.Name != suffix {
				sym.Role = rs.role
				return
			}
		}
	}
}
