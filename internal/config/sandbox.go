package config

import (
	lua "github.com/yuin/gopher-lua"
)

// blockedGlobals are removed from every config VM. Without them a config
// cannot run commands, touch the filesystem or load other code.
var blockedGlobals = []string{
	"os",
	"io",
	"require",
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"module",
	"package",
	"debug",
	"collectgarbage",
}

// sandboxLuaVM strips the unsafe parts of the standard library from L.
// string, table, math and the basic functions stay available.
func sandboxLuaVM(L *lua.LState) {
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
}

// newSandboxedVM creates a new Lua VM with sandboxing applied.
func newSandboxedVM() *lua.LState {
	L := lua.NewState(lua.Options{
		CallStackSize:       256,
		RegistrySize:        1024 * 8,
		IncludeGoStackTrace: false,
	})
	sandboxLuaVM(L)
	return L
}
