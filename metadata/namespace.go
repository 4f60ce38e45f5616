package metadata

import "strings"

// NamespaceDefinition is one segment of a dotted namespace. Definitions
// are built from the namespace strings of the TypeDef table: "A.B" yields
// "A" with a nil parent and "B" whose parent is "A".
type NamespaceDefinition struct {
	Name     string
	Parent   Handle
	FullName string

	// TypeDefinitions declared directly in this namespace.
	TypeDefinitions []Handle
}

// NamespaceDefinition returns the namespace for h.
func (md *Reader) NamespaceDefinition(h Handle) (NamespaceDefinition, error) {
	if err := checkKind(h, KindNamespace); err != nil {
		return NamespaceDefinition{}, err
	}
	if err := md.loadNamespaces(); err != nil {
		return NamespaceDefinition{}, err
	}
	if int(h.Row()) > len(md.namespaces) {
		return NamespaceDefinition{}, invalidHandle(h, KindNamespace)
	}
	ns := md.namespaces[h.Row()-1]
	ns.TypeDefinitions = append([]Handle(nil), ns.TypeDefinitions...)
	return ns, nil
}

// NamespaceCount returns the number of namespace definitions.
func (md *Reader) NamespaceCount() (int, error) {
	if err := md.loadNamespaces(); err != nil {
		return 0, err
	}
	return len(md.namespaces), nil
}

func (md *Reader) loadNamespaces() error {
	md.namespacesOnce.Do(func() {
		n := md.rows[KindTypeDef]
		md.namespaceIndex = make(map[string]Handle)
		md.typeNamespaces = make([]Handle, n+1)
		for i := range md.typeNamespaces {
			md.typeNamespaces[i] = NewHandle(KindNamespace, 0)
		}

		for row := uint32(1); row <= n; row++ {
			idx, err := md.cell(KindTypeDef, row, colTypeDefNamespace)
			if err != nil {
				md.namespacesErr = err
				return
			}
			full, err := md.String(StringHandle(idx))
			if err != nil {
				md.namespacesErr = err
				return
			}
			if full == "" {
				continue
			}
			h := md.defineNamespace(full)
			md.typeNamespaces[row] = h
			def := &md.namespaces[h.Row()-1]
			def.TypeDefinitions = append(def.TypeDefinitions, NewHandle(KindTypeDef, row))
		}
	})
	return md.namespacesErr
}

// defineNamespace returns the handle for full, creating it and any
// missing ancestors.
func (md *Reader) defineNamespace(full string) Handle {
	if h, ok := md.namespaceIndex[full]; ok {
		return h
	}
	parent := NewHandle(KindNamespace, 0)
	name := full
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		parent = md.defineNamespace(full[:i])
		name = full[i+1:]
	}
	md.namespaces = append(md.namespaces, NamespaceDefinition{
		Name:     name,
		Parent:   parent,
		FullName: full,
	})
	h := NewHandle(KindNamespace, uint32(len(md.namespaces)))
	md.namespaceIndex[full] = h
	return h
}
