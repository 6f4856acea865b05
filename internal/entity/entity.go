// Package entity describes the two object classes the connector manages and
// the tables that back them.
package entity

import (
	"fmt"
	"strings"
)

// Kind identifies an entity type.
type Kind string

const (
	Account    Kind = "account"
	Permission Kind = "permission"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{Account, Permission}

// MembershipTable links accounts to permissions.
const MembershipTable = "account_permissions"

// Attribute describes one field of an entity snapshot.
type Attribute struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"` // string, bool, timestamp
	MultiValued bool   `json:"multi_valued,omitempty" yaml:"multi_valued,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Readonly    bool   `json:"readonly,omitempty" yaml:"readonly,omitempty"`
}

// Descriptor is the per-kind strategy: where the rows live and how they look.
type Descriptor struct {
	Kind Kind
	// Table holding one row per entity.
	Table string
	// IDColumn is the primary key.
	IDColumn string
	// NameColumn is the human-facing unique name.
	NameColumn string
	// ModifiedColumn is compared against the sync token.
	ModifiedColumn string
	// Columns are the scalar snapshot columns in select order, IDColumn first.
	Columns []string
	// MultiValued is the snapshot attribute aggregated from MembershipTable.
	MultiValued string
	// MemberColumn is the MembershipTable column joined on IDColumn.
	MemberColumn string
	// RelatedColumn is the MembershipTable column aggregated into MultiValued.
	RelatedColumn string
	// Attributes is the schema exposed to the host framework.
	Attributes []Attribute
}

var descriptors = map[Kind]*Descriptor{
	Account: {
		Kind:           Account,
		Table:          "accounts",
		IDColumn:       "account_id",
		NameColumn:     "username",
		ModifiedColumn: "last_modified_at",
		Columns: []string{
			"account_id", "username", "full_name", "email", "is_active", "created_at", "last_modified_at",
		},
		MultiValued:   "memberOf",
		MemberColumn:  "account_id",
		RelatedColumn: "permission_uid",
		Attributes: []Attribute{
			{Name: "account_id", Type: "string", Readonly: true},
			{Name: "username", Type: "string", Required: true},
			{Name: "full_name", Type: "string"},
			{Name: "email", Type: "string"},
			{Name: "is_active", Type: "bool"},
			{Name: "created_at", Type: "timestamp", Readonly: true},
			{Name: "last_modified_at", Type: "timestamp", Readonly: true},
			{Name: "memberOf", Type: "string", MultiValued: true},
		},
	},
	Permission: {
		Kind:           Permission,
		Table:          "permission",
		IDColumn:       "permission_uid",
		NameColumn:     "code",
		ModifiedColumn: "last_modified_at",
		Columns: []string{
			"permission_uid", "code", "display_name", "category", "created_at", "last_modified_at",
		},
		MultiValued:   "members",
		MemberColumn:  "permission_uid",
		RelatedColumn: "account_id",
		Attributes: []Attribute{
			{Name: "permission_uid", Type: "string", Readonly: true},
			{Name: "code", Type: "string", Required: true},
			{Name: "display_name", Type: "string"},
			{Name: "category", Type: "string"},
			{Name: "created_at", Type: "timestamp", Readonly: true},
			{Name: "last_modified_at", Type: "timestamp", Readonly: true},
			{Name: "members", Type: "string", MultiValued: true, Readonly: true},
		},
	},
}

// UnsupportedError names a kind that has no descriptor.
type UnsupportedError struct {
	Kind string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported entity kind %q", e.Kind)
}

// Lookup returns the descriptor for k.
func Lookup(k Kind) (*Descriptor, error) {
	d, ok := descriptors[k]
	if !ok {
		return nil, &UnsupportedError{Kind: string(k)}
	}
	return d, nil
}

// Parse maps a user or framework supplied name to a Kind. It accepts the
// framework's "__ACCOUNT__" object class alongside the plain names.
func Parse(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "account", "accounts", "__account__":
		return Account, nil
	case "permission", "permissions":
		return Permission, nil
	}
	return "", &UnsupportedError{Kind: s}
}

// ForTable returns the kinds whose snapshots depend on table.
func ForTable(table string) []Kind {
	switch strings.ToLower(table) {
	case "accounts":
		return []Kind{Account}
	case "permission":
		return []Kind{Permission}
	case MembershipTable:
		return []Kind{Account, Permission}
	}
	return nil
}
