package models

type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Status      int          `json:"status"`
	Permissions []Permission `json:"permissions,omitempty"`
}

type RoleRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Permission struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Page   string `json:"page,omitempty"`
	Status int    `json:"status,omitempty"`
}

type PermissionRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PermissionGroup is one page worth of permissions.
type PermissionGroup struct {
	Name string          `json:"name"`
	Data []PermissionRef `json:"data"`
}
