package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goSample = `package testpkg

import (
	"fmt"
	"strings"
)

// UserRepository persists users. It is safe for concurrent use.
type UserRepository interface {
	Get(id int) (*User, error)
}

// User represents a user in the system
type User struct {
	ID   int
	Name string
}

// GetName returns the user's name
func (u *User) GetName() string {
	return strings.TrimSpace(u.Name)
}

// NewUser creates a new user
func NewUser(id int, name string) *User {
	return &User{ID: id, Name: name}
}

const maxUsers = 10

var defaultName string

func helper() { fmt.Println("x") }
`

func symbolNames(o *Outline) []string {
	var names []string
	for _, s := range o.Symbols {
		names = append(names, s.Name)
	}
	return names
}

func findSymbol(t *testing.T, o *Outline, name string) Symbol {
	t.Helper()
	for _, s := range o.Symbols {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("symbol %s not found in %v", name, symbolNames(o))
	return Symbol{}
}

func TestParser_GoOutline(t *testing.T) {
	o, err := New().Outline("user.go", []byte(goSample))
	require.NoError(t, err)

	assert.Equal(t, "go", o.Language)
	assert.Equal(t, "testpkg", o.Package)
	assert.Equal(t, []string{"fmt", "strings"}, o.Imports)
	assert.Empty(t, o.Errors)
	assert.Equal(t, []string{"UserRepository", "User", "GetName", "NewUser", "maxUsers", "defaultName", "helper"}, symbolNames(o))

	repo := findSymbol(t, o, "UserRepository")
	assert.Equal(t, KindInterface, repo.Kind)
	assert.Equal(t, RoleRepository, repo.Role)
	assert.Equal(t, "UserRepository persists users.", repo.Doc)

	method := findSymbol(t, o, "GetName")
	assert.Equal(t, KindMethod, method.Kind)
	assert.Equal(t, "User", method.Receiver)
	assert.Equal(t, "func (*User) GetName() string", method.Signature)
	assert.True(t, method.Exported)

	ctor := findSymbol(t, o, "NewUser")
	assert.Equal(t, "func NewUser(id int, name string) *User", ctor.Signature)

	assert.False(t, findSymbol(t, o, "helper").Exported)
	assert.Equal(t, KindConst, findSymbol(t, o, "maxUsers").Kind)
	assert.Len(t, o.Exported(), 4)
	assert.Equal(t, []Role{RoleRepository}, o.Roles())
}

func TestParser_SyntaxErrorIsPartial(t *testing.T) {
	o, err := New().Outline("broken.go", []byte("package broken\n\nfunc Good() {}\n\nfunc Bad( {\n"))
	require.NoError(t, err)
	assert.Equal(t, "broken", o.Package)
	assert.NotEmpty(t, o.Errors)
}

func TestPythonOutliner(t *testing.T) {
	src := `import os
from pathlib import Path

class OrderService(Base):
    """Coordinates orders. Second sentence."""

    def place(self, order) -> bool:
        return True

    def _internal(self):
        pass

@cache
def load(path):
    return Path(path)

def test_load():
    assert load("x")
`
	o, err := NewPythonOutliner().Outline("orders.py", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "python", o.Language)
	assert.Equal(t, []string{"os", "pathlib"}, o.Imports)
	assert.Equal(t, []string{"OrderService", "place", "_internal", "load", "test_load"}, symbolNames(o))

	cls := findSymbol(t, o, "OrderService")
	assert.Equal(t, KindClass, cls.Kind)
	assert.Equal(t, RoleService, cls.Role)
	assert.Equal(t, "Coordinates orders.", cls.Doc)
	assert.Equal(t, "class OrderService(Base)", cls.Signature)

	place := findSymbol(t, o, "place")
	assert.Equal(t, KindMethod, place.Kind)
	assert.Equal(t, "OrderService", place.Receiver)
	assert.Equal(t, "def place(self, order) -> bool", place.Signature)

	assert.False(t, findSymbol(t, o, "_internal").Exported)
	assert.Equal(t, RoleTest, findSymbol(t, o, "test_load").Role)
}

func TestTypeScriptOutliner(t *testing.T) {
	src := `import { readFile } from "fs";

export interface Config { path: string }

export class ConfigStore {
  load(path: string): Config { return { path }; }
}

export const parse = (text: string) => JSON.parse(text);

function internal() {}

export type Mode = "a" | "b";
`
	o, err := NewTypeScriptOutliner().Outline("config.ts", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "typescript", o.Language)
	assert.Equal(t, []string{"fs"}, o.Imports)
	assert.Equal(t, []string{"Config", "ConfigStore", "load", "parse", "internal", "Mode"}, symbolNames(o))

	assert.Equal(t, RoleRepository, findSymbol(t, o, "ConfigStore").Role)
	assert.Equal(t, "ConfigStore", findSymbol(t, o, "load").Receiver)
	assert.True(t, findSymbol(t, o, "parse").Exported)
	assert.False(t, findSymbol(t, o, "internal").Exported)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Supports("main.go"))
	assert.True(t, r.Supports("app/MAIN.PY"))
	assert.True(t, r.Supports("index.js"))
	assert.False(t, r.Supports("README.md"))

	_, err := r.Outline("notes.txt", []byte("hello"))
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	o, err := r.Outline("index.js", []byte("export function main() {}\n"))
	require.NoError(t, err)
	assert.Equal(t, "javascript", o.Language)
	assert.Equal(t, 1, o.Lines)
}

func TestFirstSentence(t *testing.T) {
	assert.Equal(t, "One.", firstSentence("One. Two.\n"))
	assert.Equal(t, "Wrapped line text", firstSentence("Wrapped line\ntext\n\nNext paragraph."))
	assert.Equal(t, "", firstSentence("  "))
}
