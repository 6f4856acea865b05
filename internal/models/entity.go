package models

import "time"

// Account is a row of the accounts table with its permission memberships.
type Account struct {
	ID             string    `json:"account_id"`
	Username       string    `json:"username"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	LastModifiedAt time.Time `json:"last_modified_at"`
	MemberOf       []string  `json:"memberOf"`
}

// Permission is a row of the permission table with its member accounts.
type Permission struct {
	ID             string    `json:"permission_uid"`
	Code           string    `json:"code"`
	DisplayName    string    `json:"display_name"`
	Category       string    `json:"category"`
	CreatedAt      time.Time `json:"created_at"`
	LastModifiedAt time.Time `json:"last_modified_at"`
	Members        []string  `json:"members"`
}

// AccountInput carries the writable account attributes. Nil fields are left
// unchanged on update.
type AccountInput struct {
	Username *string `json:"username,omitempty"`
	FullName *string `json:"full_name,omitempty"`
	Email    *string `json:"email,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// PermissionInput carries the writable permission attributes.
type PermissionInput struct {
	Code        *string `json:"code,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	Category    *string `json:"category,omitempty"`
}
