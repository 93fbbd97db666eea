package rbac

// 权限常量
const (
	PermissionReadAlert        = "alert:read"
	PermissionWriteAlert       = "alert:write"
	PermissionDeliverAlert     = "alert:deliver"
	PermissionTriggerReminders = "reminder:trigger"
	PermissionWritePreference  = "preference:write"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionReadAlert,
		PermissionWritePreference,
	},
	RoleAdmin: {
		PermissionReadAlert,
		PermissionWritePreference,
		PermissionWriteAlert,
		PermissionDeliverAlert,
		PermissionTriggerReminders,
	},
}

// RoleFor 把用户的 is_staff 标记映射成角色
func RoleFor(isStaff bool) string {
	if isStaff {
		return RoleAdmin
	}
	return RoleUser
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(userID int64, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     int64
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
