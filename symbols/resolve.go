package symbols

import (
	"fmt"
	"strings"

	"github.com/skdltmxn/clrsym/metadata"
)

// maxScopeDepth bounds the scope chain walked for a single name.
const maxScopeDepth = 256

// MetadataProvider is the set of metadata lookups name resolution needs.
// *metadata.Reader implements it.
type MetadataProvider interface {
	String(h metadata.StringHandle) (string, error)
	AssemblyReference(h metadata.Handle) (metadata.AssemblyReference, error)
	TypeReference(h metadata.Handle) (metadata.TypeReference, error)
	TypeDefinition(h metadata.Handle) (metadata.TypeDefinition, error)
	MemberReference(h metadata.Handle) (metadata.MemberReference, error)
	FieldDefinition(h metadata.Handle) (metadata.FieldDefinition, error)
	MethodDefinition(h metadata.Handle) (metadata.MethodDefinition, error)
	NamespaceDefinition(h metadata.Handle) (metadata.NamespaceDefinition, error)
}

// Resolver turns entity handles into dotted names by walking their scope
// chains: a type reference through its resolution scope, a member
// through its parent or declaring type, a type definition through its
// namespace.
type Resolver struct {
	md MetadataProvider
}

// NewResolver returns a resolver over md.
func NewResolver(md MetadataProvider) *Resolver {
	return &Resolver{md: md}
}

// ResolveName returns the dotted name of h, outermost scope first.
//
// Field and method definitions resolve to the full name of their declaring
// type only; the member's own name is not appended. A nil handle resolves
// to "". Kinds other than AssemblyRef, TypeRef, TypeDef, MemberRef, Field,
// MethodDef and NamespaceDefinition yield ErrUnsupportedEntityKind.
func (r *Resolver) ResolveName(h metadata.Handle) (string, error) {
	name, err := r.resolve(h, 0)
	if err != nil {
		return "", err
	}
	return strings.Trim(name, "."), nil
}

func (r *Resolver) resolve(h metadata.Handle, depth int) (string, error) {
	if h.IsNil() {
		return "", nil
	}
	if depth > maxScopeDepth {
		return "", fmt.Errorf("%w: at %s", ErrResolutionDepth, h)
	}
	depth++

	switch h.Kind() {
	case metadata.KindAssemblyRef:
		ref, err := r.md.AssemblyReference(h)
		if err != nil {
			return "", err
		}
		return r.md.String(ref.Name)

	case metadata.KindTypeRef:
		ref, err := r.md.TypeReference(h)
		if err != nil {
			return "", err
		}
		scope, err := r.resolve(ref.ResolutionScope, depth)
		if err != nil {
			return "", err
		}
		name, err := r.md.String(ref.Name)
		if err != nil {
			return "", err
		}
		return join(scope, name), nil

	case metadata.KindMemberRef:
		ref, err := r.md.MemberReference(h)
		if err != nil {
			return "", err
		}
		return r.resolve(ref.Parent, depth)

	case metadata.KindField:
		def, err := r.md.FieldDefinition(h)
		if err != nil {
			return "", err
		}
		return r.resolve(def.DeclaringType, depth)

	case metadata.KindMethodDef:
		def, err := r.md.MethodDefinition(h)
		if err != nil {
			return "", err
		}
		return r.resolve(def.DeclaringType, depth)

	case metadata.KindTypeDef:
		def, err := r.md.TypeDefinition(h)
		if err != nil {
			return "", err
		}
		ns, err := r.resolve(def.NamespaceDefinition, depth)
		if err != nil {
			return "", err
		}
		name, err := r.md.String(def.Name)
		if err != nil {
			return "", err
		}
		return strings.Trim(ns+"."+name, "."), nil

	case metadata.KindNamespace:
		ns, err := r.md.NamespaceDefinition(h)
		if err != nil {
			return "", err
		}
		parent, err := r.resolve(ns.Parent, depth)
		if err != nil {
			return "", err
		}
		return join(parent, ns.Name), nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnsupportedEntityKind, h.Kind())
}

// join concatenates two name segments, dropping empty ones.
func join(outer, inner string) string {
	switch {
	case outer == "":
		return inner
	case inner == "":
		return outer
	}
	return outer + "." + inner
}
