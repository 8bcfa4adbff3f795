package auth

import "time"

// User is an interactive account scoped to a tenant organisation.
type User struct {
	ID           int64
	OrgID        int64
	Email        string
	Name         string
	Role         string // legacy base role, see rbac.ParseBaseRole
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}
