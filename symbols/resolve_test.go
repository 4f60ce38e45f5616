package symbols

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/clrsym/metadata"
)

// fakeMetadata serves hand-built records keyed by handle.
type fakeMetadata struct {
	strings    []string
	asmRefs    map[metadata.Handle]metadata.AssemblyReference
	typeRefs   map[metadata.Handle]metadata.TypeReference
	typeDefs   map[metadata.Handle]metadata.TypeDefinition
	memberRefs map[metadata.Handle]metadata.MemberReference
	fields     map[metadata.Handle]metadata.FieldDefinition
	methods    map[metadata.Handle]metadata.MethodDefinition
	namespaces map[metadata.Handle]metadata.NamespaceDefinition
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{
		strings:    []string{""},
		asmRefs:    map[metadata.Handle]metadata.AssemblyReference{},
		typeRefs:   map[metadata.Handle]metadata.TypeReference{},
		typeDefs:   map[metadata.Handle]metadata.TypeDefinition{},
		memberRefs: map[metadata.Handle]metadata.MemberReference{},
		fields:     map[metadata.Handle]metadata.FieldDefinition{},
		methods:    map[metadata.Handle]metadata.MethodDefinition{},
		namespaces: map[metadata.Handle]metadata.NamespaceDefinition{},
	}
}

func (f *fakeMetadata) str(s string) metadata.StringHandle {
	if s == "" {
		return 0
	}
	f.strings = append(f.strings, s)
	return metadata.StringHandle(len(f.strings) - 1)
}

func lookup[V any](m map[metadata.Handle]V, h metadata.Handle) (V, error) {
	v, ok := m[h]
	if !ok {
		return v, fmt.Errorf("%w: %s", metadata.ErrInvalidHandle, h)
	}
	return v, nil
}

func (f *fakeMetadata) String(h metadata.StringHandle) (string, error) {
	if int(h) >= len(f.strings) {
		return "", metadata.ErrInvalidHeap
	}
	return f.strings[h], nil
}

func (f *fakeMetadata) AssemblyReference(h metadata.Handle) (metadata.AssemblyReference, error) {
	return lookup(f.asmRefs, h)
}

func (f *fakeMetadata) TypeReference(h metadata.Handle) (metadata.TypeReference, error) {
	return lookup(f.typeRefs, h)
}

func (f *fakeMetadata) TypeDefinition(h metadata.Handle) (metadata.TypeDefinition, error) {
	return lookup(f.typeDefs, h)
}

func (f *fakeMetadata) MemberReference(h metadata.Handle) (metadata.MemberReference, error) {
	return lookup(f.memberRefs, h)
}

func (f *fakeMetadata) FieldDefinition(h metadata.Handle) (metadata.FieldDefinition, error) {
	return lookup(f.fields, h)
}

func (f *fakeMetadata) MethodDefinition(h metadata.Handle) (metadata.MethodDefinition, error) {
	return lookup(f.methods, h)
}

func (f *fakeMetadata) NamespaceDefinition(h metadata.Handle) (metadata.NamespaceDefinition, error) {
	return lookup(f.namespaces, h)
}

var _ MetadataProvider = (*fakeMetadata)(nil)

func handle(k metadata.Kind, row uint32) metadata.Handle { return metadata.NewHandle(k, row) }

func TestResolveName(t *testing.T) {
	md := newFakeMetadata()

	myLib := handle(metadata.KindAssemblyRef, 1)
	md.asmRefs[myLib] = metadata.AssemblyReference{Name: md.str("MyLib")}
	unnamedAsm := handle(metadata.KindAssemblyRef, 2)
	md.asmRefs[unnamedAsm] = metadata.AssemblyReference{}

	foo := handle(metadata.KindTypeRef, 1)
	md.typeRefs[foo] = metadata.TypeReference{ResolutionScope: myLib, Name: md.str("Foo"), Namespace: md.str("Ignored")}
	fooInner := handle(metadata.KindTypeRef, 2)
	md.typeRefs[fooInner] = metadata.TypeReference{ResolutionScope: foo, Name: md.str("Inner")}
	unscoped := handle(metadata.KindTypeRef, 3)
	md.typeRefs[unscoped] = metadata.TypeReference{Name: md.str("Loose")}
	unnamedRef := handle(metadata.KindTypeRef, 4)
	md.typeRefs[unnamedRef] = metadata.TypeReference{ResolutionScope: myLib}
	emptyScope := handle(metadata.KindTypeRef, 5)
	md.typeRefs[emptyScope] = metadata.TypeReference{ResolutionScope: unnamedAsm, Name: md.str("Orphan")}

	nsA := handle(metadata.KindNamespace, 1)
	md.namespaces[nsA] = metadata.NamespaceDefinition{Name: "A", FullName: "A"}
	nsB := handle(metadata.KindNamespace, 2)
	md.namespaces[nsB] = metadata.NamespaceDefinition{Name: "B", Parent: nsA, FullName: "A.B"}
	root := handle(metadata.KindNamespace, 3)
	md.namespaces[root] = metadata.NamespaceDefinition{Name: "Root", FullName: "Root"}

	bar := handle(metadata.KindTypeDef, 2)
	md.typeDefs[bar] = metadata.TypeDefinition{Name: md.str("Bar"), NamespaceDefinition: nsB}
	global := handle(metadata.KindTypeDef, 3)
	md.typeDefs[global] = metadata.TypeDefinition{Name: md.str("Program")}

	field := handle(metadata.KindField, 1)
	md.fields[field] = metadata.FieldDefinition{Name: md.str("count"), DeclaringType: bar}
	method := handle(metadata.KindMethodDef, 1)
	md.methods[method] = metadata.MethodDefinition{Name: md.str("Run"), DeclaringType: bar}
	orphanMethod := handle(metadata.KindMethodDef, 2)
	md.methods[orphanMethod] = metadata.MethodDefinition{Name: md.str("Lost")}

	memberOfRef := handle(metadata.KindMemberRef, 1)
	md.memberRefs[memberOfRef] = metadata.MemberReference{Parent: foo, Name: md.str("Call")}
	memberOfDef := handle(metadata.KindMemberRef, 2)
	md.memberRefs[memberOfDef] = metadata.MemberReference{Parent: method, Name: md.str("Run")}
	parentless := handle(metadata.KindMemberRef, 3)
	md.memberRefs[parentless] = metadata.MemberReference{Name: md.str("Nothing")}

	r := NewResolver(md)

	tests := []struct {
		name string
		h    metadata.Handle
		want string
	}{
		{"assembly reference", myLib, "MyLib"},
		{"unnamed assembly reference", unnamedAsm, ""},
		{"type reference in assembly", foo, "MyLib.Foo"},
		{"nested type reference", fooInner, "MyLib.Foo.Inner"},
		{"type reference without scope", unscoped, "Loose"},
		{"type reference without name", unnamedRef, "MyLib"},
		{"type reference with empty scope", emptyScope, "Orphan"},
		{"namespace chain", nsB, "A.B"},
		{"root namespace", root, "Root"},
		{"type definition in namespace", bar, "A.B.Bar"},
		{"type definition in global namespace", global, "Program"},
		{"member reference to type reference", memberOfRef, "MyLib.Foo"},
		{"member reference to method", memberOfDef, "A.B.Bar"},
		{"member reference without parent", parentless, ""},
		{"method without declaring type", orphanMethod, ""},
		{"nil handle", metadata.Handle(0), ""},
		{"nil type reference", handle(metadata.KindTypeRef, 0), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveName(tt.h)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	// Field and method definitions name their declaring type only; the
	// member's own name is not part of the result.
	t.Run("member definitions resolve to declaring type", func(t *testing.T) {
		got, err := r.ResolveName(field)
		require.NoError(t, err)
		assert.Equal(t, "A.B.Bar", got)

		got, err = r.ResolveName(method)
		require.NoError(t, err)
		assert.Equal(t, "A.B.Bar", got)
	})
}

func TestResolveNameUnsupportedKinds(t *testing.T) {
	md := newFakeMetadata()
	modRef := handle(metadata.KindModuleRef, 1)
	viaModule := handle(metadata.KindTypeRef, 1)
	md.typeRefs[viaModule] = metadata.TypeReference{ResolutionScope: modRef, Name: md.str("Native")}

	r := NewResolver(md)
	for _, h := range []metadata.Handle{
		handle(metadata.KindModule, 1),
		handle(metadata.KindDocument, 1),
		handle(metadata.KindTypeSpec, 1),
		handle(metadata.KindParam, 1),
		modRef,
		viaModule,
	} {
		t.Run(h.String(), func(t *testing.T) {
			name, err := r.ResolveName(h)
			require.ErrorIs(t, err, ErrUnsupportedEntityKind)
			assert.Empty(t, name)
		})
	}
}

func TestResolveNameErrors(t *testing.T) {
	md := newFakeMetadata()

	missingScope := handle(metadata.KindTypeRef, 1)
	md.typeRefs[missingScope] = metadata.TypeReference{ResolutionScope: handle(metadata.KindAssemblyRef, 9), Name: md.str("X")}

	loopA := handle(metadata.KindTypeRef, 2)
	loopB := handle(metadata.KindTypeRef, 3)
	md.typeRefs[loopA] = metadata.TypeReference{ResolutionScope: loopB, Name: md.str("A")}
	md.typeRefs[loopB] = metadata.TypeReference{ResolutionScope: loopA, Name: md.str("B")}

	r := NewResolver(md)

	_, err := r.ResolveName(missingScope)
	require.ErrorIs(t, err, metadata.ErrInvalidHandle)

	_, err = r.ResolveName(loopA)
	require.ErrorIs(t, err, ErrResolutionDepth)
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "a.b", join("a", "b"))
	assert.Equal(t, "b", join("", "b"))
	assert.Equal(t, "a", join("a", ""))
	assert.Equal(t, "", join("", ""))
}
