package xmltree

import "maps"

const (
	AtomNamespace       = "http://www.w3.org/2005/Atom"
	DublinCoreNamespace = "http://purl.org/dc/elements/1.1/"
)

var wellKnownAliases = map[string]string{
	AtomNamespace:       "atom",
	DublinCoreNamespace: "dc",
}

// NamespaceTable maps namespace URIs to the short aliases used in parsed
// tag names. Each parse owns its own table.
type NamespaceTable struct {
	aliases map[string]string
}

func NewNamespaceTable() *NamespaceTable {
	return &NamespaceTable{aliases: maps.Clone(wellKnownAliases)}
}

// Declare registers alias for uri unless uri already has one.
func (t *NamespaceTable) Declare(uri, alias string) {
	if uri == "" {
		return
	}
	if _, ok := t.aliases[uri]; ok {
		return
	}
	t.aliases[uri] = alias
}

func (t *NamespaceTable) Alias(uri string) (string, bool) {
	alias, ok := t.aliases[uri]
	return alias, ok
}

// Qualify renders a namespaced name as alias:local. An empty alias renders
// the bare local name, and an unknown namespace renders as {uri}local.
func (t *NamespaceTable) Qualify(space, local string) string {
	if space == "" {
		return local
	}
	alias, ok := t.aliases[space]
	if !ok {
		return "{" + space + "}" + local
	}
	if alias == "" {
		return local
	}
	return alias + ":" + local
}

// Aliases returns a copy of the table.
func (t *NamespaceTable) Aliases() map[string]string {
	return maps.Clone(t.aliases)
}
