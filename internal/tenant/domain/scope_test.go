package domain

import "testing"

func TestScopeVariants(t *testing.T) {
	project := ProjectScope(42)
	if !project.IsProject() || project.IsPersonal() || !project.Metered() {
		t.Fatalf("unexpected project scope %+v", project)
	}
	if project.String() != "project:42" {
		t.Fatalf("unexpected string %q", project.String())
	}

	personal := PersonalScope(7)
	if !personal.IsPersonal() || personal.IsProject() || !personal.Metered() {
		t.Fatalf("unexpected personal scope %+v", personal)
	}
	if personal.String() != "personal:7" {
		t.Fatalf("unexpected string %q", personal.String())
	}

	none := NoScope()
	if none.Metered() || none.Kind() != ScopeNone || none.String() != "none" {
		t.Fatalf("unexpected none scope %+v", none)
	}
}

func TestZeroValueScopeIsNone(t *testing.T) {
	var scope TenantScope
	if scope.Kind() != ScopeNone || scope.Metered() {
		t.Fatalf("expected zero value to be the none scope, got %+v", scope)
	}
}

func TestParseResourceKind(t *testing.T) {
	kind, err := ParseResourceKind("  Article ")
	if err != nil || kind != ResourceArticle {
		t.Fatalf("expected article, got %q err %v", kind, err)
	}
	if _, err := ParseResourceKind("video"); err != ErrInvalidResourceKind {
		t.Fatalf("expected ErrInvalidResourceKind, got %v", err)
	}
}
