package types

import (
	"slices"
	"time"
)

// Scope types.
const (
	ScopeGlobal    = "global"
	ScopeCharacter = "character"
	ScopeChat      = "chat"
)

// Scope restricts an Instance to the whole install or to a set of character
// or chat identifiers.
type Scope struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids,omitempty"`
}

// GlobalScope returns the install-wide scope.
func GlobalScope() Scope {
	return Scope{Type: ScopeGlobal}
}

// CharacterScope returns a scope limited to the given characters.
func CharacterScope(ids ...string) Scope {
	return Scope{Type: ScopeCharacter, IDs: ids}
}

// Matches reports whether a record in this scope is visible to characterID.
// Global scopes match everything; an empty characterID only matches global
// scopes.
func (s Scope) Matches(characterID string) bool {
	if s.Type == ScopeGlobal || s.Type == "" {
		return true
	}
	if characterID == "" {
		return false
	}
	return slices.Contains(s.IDs, characterID)
}

// Instance is a concrete entity of an ObjectType. Instances are created on
// the first extraction that mentions the entity and are never merged
// implicitly.
type Instance struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	TypeID    string    `json:"typeId"`
	Name      string    `json:"name,omitempty"`
	Scope     Scope     `json:"scope"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
