package api

// Request/response bodies for the backend REST endpoints. Field names follow
// the wire format of the upstream Django-style API exactly.

// LoginRequest carries the credentials for POST /api/login/.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is the body returned on a successful login.
type LoginResult struct {
	Access   string `json:"access"`
	Refresh  string `json:"refresh"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Registration carries the fields for POST /api/register/.
type Registration struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

// RegisterResult is the body returned on a successful registration.
type RegisterResult struct {
	Message string         `json:"message"`
	User    map[string]any `json:"user"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshResult is the body returned by POST /api/token/refresh/. Refresh is
// empty when the server chose not to rotate the refresh token.
type RefreshResult struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Role is the nested role object on a user profile. The permission lists are
// left loosely typed because the upstream API has historically returned them
// in several inconsistent shapes (plain strings, objects with a codename,
// join records); see session.ExtractPermissionCodes.
type Role struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Permissions     []any  `json:"permissions"`
	RolePermissions []any  `json:"role_permissions"`
}

// Profile is the current-user document from GET /api/users/me/.
type Profile struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        *Role  `json:"role"`
	Permissions []any  `json:"permissions"`
}
