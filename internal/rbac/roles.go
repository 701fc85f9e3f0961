package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// Valid reports whether role is one the API knows.
func Valid(role string) bool { return role == RoleStaff || role == RoleAdmin }
