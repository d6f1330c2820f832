// Пакет rbac — роли пользователей и права API-ключей.
//
// Роли: ADMIN (администрирование ключей и пользователей), USER.
// Права ключей — четыре взаимоисключающих значения: READ, WRITE, DELETE
// и агрегирующее FULL_ACCESS. READ/WRITE/DELETE независимы друг от друга,
// FULL_ACCESS включает их все.
package rbac

// Роли пользователей.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Права API-ключей.
const (
	PermissionRead       = "READ"
	PermissionWrite      = "WRITE"
	PermissionDelete     = "DELETE"
	PermissionFullAccess = "FULL_ACCESS"
)

// Operation — вид операции, для которой проверяются права.
type Operation string

// Операции, защищённые Authorization Gate.
const (
	OpListFiles  Operation = "files:list"
	OpUpload     Operation = "files:upload"
	OpDeleteFile Operation = "files:delete"
	// OpManageKeys — list/create/update/revoke API-ключей.
	OpManageKeys Operation = "keys:manage"
	// OpManageUsers — список пользователей, смена роли, удаление.
	OpManageUsers Operation = "users:manage"
)

// requiredPermission — право ключа, достаточное для файловой операции.
// Операции администрирования через ключ недоступны.
var requiredPermission = map[Operation]string{
	OpListFiles:  PermissionRead,
	OpUpload:     PermissionWrite,
	OpDeleteFile: PermissionDelete,
}

// IsValidPermission проверяет, является ли строка допустимым правом ключа.
func IsValidPermission(p string) bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionDelete, PermissionFullAccess:
		return true
	}
	return false
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// PermissionAllows проверяет, разрешает ли право ключа операцию.
func PermissionAllows(permission string, op Operation) bool {
	required, ok := requiredPermission[op]
	if !ok {
		return false
	}
	return permission == PermissionFullAccess || permission == required
}

// RoleAllows проверяет, разрешает ли роль сессионного пользователя операцию.
// Файловые операции доступны любой роли (с проверкой владения в сервисе),
// администрирование — только ADMIN.
func RoleAllows(role string, op Operation) bool {
	if IsAdminOperation(op) {
		return role == RoleAdmin
	}
	switch op {
	case OpListFiles, OpUpload, OpDeleteFile:
		return IsValidRole(role)
	}
	return false
}

// IsAdminOperation сообщает, относится ли операция к администрированию.
func IsAdminOperation(op Operation) bool {
	return op == OpManageKeys || op == OpManageUsers
}
