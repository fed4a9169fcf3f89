package domain

import "github.com/bwmarrin/snowflake"

// ScopeKind discriminates the tenant variants.
type ScopeKind string

const (
	ScopeNone     ScopeKind = "none"
	ScopeProject  ScopeKind = "project"
	ScopePersonal ScopeKind = "personal"
)

// TenantScope identifies who a metered operation is billed against: a shared
// project, a personal account, or nobody. The zero value is the none scope.
type TenantScope struct {
	kind ScopeKind
	id   snowflake.ID
}

func ProjectScope(id snowflake.ID) TenantScope {
	return TenantScope{kind: ScopeProject, id: id}
}

func PersonalScope(id snowflake.ID) TenantScope {
	return TenantScope{kind: ScopePersonal, id: id}
}

func NoScope() TenantScope { return TenantScope{kind: ScopeNone} }

func (s TenantScope) Kind() ScopeKind {
	if s.kind == "" {
		return ScopeNone
	}
	return s.kind
}

func (s TenantScope) ID() snowflake.ID { return s.id }

func (s TenantScope) IsProject() bool { return s.kind == ScopeProject }

func (s TenantScope) IsPersonal() bool { return s.kind == ScopePersonal }

// Metered reports whether the scope names a tenant whose usage is tracked.
func (s TenantScope) Metered() bool {
	return s.kind == ScopeProject || s.kind == ScopePersonal
}

func (s TenantScope) String() string {
	if !s.Metered() {
		return string(ScopeNone)
	}
	return string(s.kind) + ":" + s.id.String()
}
