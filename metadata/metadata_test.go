package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/clrsym/internal/testimage"
	"github.com/skdltmxn/clrsym/metadata"
)

type fixture struct {
	md *metadata.Reader

	lib, object         metadata.Handle
	moduleType, bar     metadata.Handle
	inner, baz          metadata.Handle
	barField, barMethod metadata.Handle
	bazMethod           metadata.Handle
}

func buildFixture(t *testing.T) fixture {
	t.Helper()
	b := testimage.NewMetadata()
	var f fixture

	b.Module("Test.dll", [16]byte{1, 2, 3})
	f.lib = b.AssemblyRef("MyLib", [4]uint16{1, 2, 3, 4})
	f.object = b.TypeRef(f.lib, "System", "Object")

	f.moduleType = b.TypeDef(0, "", "<Module>", metadata.Handle(0))
	f.bar = b.TypeDef(0x100001, "A.B", "Bar", f.object)
	f.barField = b.Field(0x1, "count", []byte{0x06, 0x08})
	f.barMethod = b.MethodDef(0x86, "Run", 0x2050, []byte{0x20, 0x00, 0x01})
	f.inner = b.TypeDef(0x2, "", "Inner", f.object)
	f.baz = b.TypeDef(0x1, "A", "Baz", f.object)
	f.bazMethod = b.MethodDef(0x400, "Abstract", 0, []byte{0x20, 0x00, 0x01})

	b.NestedClass(f.inner, f.bar)
	b.GenericParam(f.bazMethod, 1, "U")
	b.GenericParam(f.baz, 0, "T")
	b.GenericParam(f.bazMethod, 0, "V")

	md, err := metadata.Parse(b.Bytes())
	require.NoError(t, err)
	f.md = md
	return f
}

func TestParseRejectsInvalidData(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, metadata.ErrNotMetadata},
		{"bad signature", []byte("MZ\x90\x00\x03\x00\x00\x00"), metadata.ErrNotMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := metadata.Parse(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseTruncatedHeader(t *testing.T) {
	data := testimage.NewMetadata().Bytes()
	_, err := metadata.Parse(data[:12])

	var perr *metadata.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "root", perr.Stream)
}

func TestReaderBasics(t *testing.T) {
	f := buildFixture(t)

	assert.Equal(t, "v4.0.30319", f.md.Version())
	assert.False(t, f.md.IsPortablePDB())
	assert.Nil(t, f.md.PDB())
	assert.Equal(t, 4, f.md.RowCount(metadata.KindTypeDef))
	assert.Equal(t, 2, f.md.RowCount(metadata.KindMethodDef))
	assert.Equal(t, 0, f.md.RowCount(metadata.KindParam))
	assert.True(t, f.md.IsSorted(metadata.KindNestedClass))
	assert.True(t, f.md.IsSorted(metadata.KindGenericParam))
	assert.False(t, f.md.IsSorted(metadata.KindTypeDef))
	assert.False(t, f.md.IsSorted(metadata.Kind(0x7f)))

	mod, err := f.md.Module()
	require.NoError(t, err)
	name, err := f.md.String(mod.Name)
	require.NoError(t, err)
	assert.Equal(t, "Test.dll", name)
	mvid, err := f.md.GUID(mod.Mvid)
	require.NoError(t, err)
	assert.Equal(t, [16]byte{1, 2, 3}, mvid)
}

func TestTypeReferenceAndAssembly(t *testing.T) {
	f := buildFixture(t)

	ref, err := f.md.TypeReference(f.object)
	require.NoError(t, err)
	assert.Equal(t, f.lib, ref.ResolutionScope)
	name, _ := f.md.String(ref.Name)
	ns, _ := f.md.String(ref.Namespace)
	assert.Equal(t, "Object", name)
	assert.Equal(t, "System", ns)

	asm, err := f.md.AssemblyReference(f.lib)
	require.NoError(t, err)
	asmName, _ := f.md.String(asm.Name)
	assert.Equal(t, "MyLib", asmName)
	assert.Equal(t, [4]uint16{1, 2, 3, 4}, asm.Version)
}

func TestDeclaringTypes(t *testing.T) {
	f := buildFixture(t)

	field, err := f.md.FieldDefinition(f.barField)
	require.NoError(t, err)
	assert.Equal(t, f.bar, field.DeclaringType)
	fieldName, _ := f.md.String(field.Name)
	assert.Equal(t, "count", fieldName)

	run, err := f.md.MethodDefinition(f.barMethod)
	require.NoError(t, err)
	assert.Equal(t, f.bar, run.DeclaringType)
	assert.Equal(t, uint32(0x2050), run.RVA)
	assert.Equal(t, uint16(0x86), run.Attributes)

	abstract, err := f.md.MethodDefinition(f.bazMethod)
	require.NoError(t, err)
	assert.Equal(t, f.baz, abstract.DeclaringType)
	assert.Zero(t, abstract.RVA)
}

func TestPointerTableIndirection(t *testing.T) {
	b := testimage.NewMetadata()
	b.Module("Ptr.dll", [16]byte{})
	first := b.TypeDef(0, "N", "First", metadata.Handle(0))
	f1 := b.Field(0, "a", []byte{0x06, 0x08})
	second := b.TypeDef(0, "N", "Second", metadata.Handle(0))
	f2 := b.Field(0, "b", []byte{0x06, 0x08})
	// Position 1 holds field 2 and position 2 holds field 1.
	b.Row(metadata.KindFieldPtr, uint16(2))
	b.Row(metadata.KindFieldPtr, uint16(1))

	md, err := metadata.Parse(b.Bytes())
	require.NoError(t, err)

	d1, err := md.FieldDefinition(f1)
	require.NoError(t, err)
	assert.Equal(t, second, d1.DeclaringType)

	d2, err := md.FieldDefinition(f2)
	require.NoError(t, err)
	assert.Equal(t, first, d2.DeclaringType)
}

func TestNamespaces(t *testing.T) {
	f := buildFixture(t)

	bar, err := f.md.TypeDefinition(f.bar)
	require.NoError(t, err)
	require.False(t, bar.NamespaceDefinition.IsNil())
	assert.Equal(t, metadata.KindNamespace, bar.NamespaceDefinition.Kind())
	assert.Equal(t, f.object, bar.BaseType)

	b, err := f.md.NamespaceDefinition(bar.NamespaceDefinition)
	require.NoError(t, err)
	assert.Equal(t, "B", b.Name)
	assert.Equal(t, "A.B", b.FullName)
	assert.Equal(t, []metadata.Handle{f.bar}, b.TypeDefinitions)

	a, err := f.md.NamespaceDefinition(b.Parent)
	require.NoError(t, err)
	assert.Equal(t, "A", a.Name)
	assert.True(t, a.Parent.IsNil())
	assert.Equal(t, []metadata.Handle{f.baz}, a.TypeDefinitions)

	count, err := f.md.NamespaceCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	module, err := f.md.TypeDefinition(f.moduleType)
	require.NoError(t, err)
	assert.True(t, module.NamespaceDefinition.IsNil())
}

func TestEnclosingType(t *testing.T) {
	f := buildFixture(t)

	enclosing, err := f.md.EnclosingType(f.inner)
	require.NoError(t, err)
	assert.Equal(t, f.bar, enclosing)

	top, err := f.md.EnclosingType(f.bar)
	require.NoError(t, err)
	assert.True(t, top.IsNil())
}

func TestGenericParameters(t *testing.T) {
	f := buildFixture(t)

	params, err := f.md.GenericParameters(f.bazMethod)
	require.NoError(t, err)
	require.Len(t, params, 2)
	first, _ := f.md.String(params[0].Name)
	second, _ := f.md.String(params[1].Name)
	assert.Equal(t, "V", first)
	assert.Equal(t, "U", second)

	typeParams, err := f.md.GenericParameters(f.baz)
	require.NoError(t, err)
	require.Len(t, typeParams, 1)
	assert.Equal(t, f.baz, typeParams[0].Owner)
}

func TestIterators(t *testing.T) {
	f := buildFixture(t)

	var types []metadata.Handle
	for h := range f.md.TypeDefinitions() {
		types = append(types, h)
	}
	assert.Equal(t, []metadata.Handle{f.moduleType, f.bar, f.inner, f.baz}, types)

	var methods int
	for range f.md.MethodDefinitions() {
		methods++
	}
	assert.Equal(t, 2, methods)
}

func TestInvalidHandles(t *testing.T) {
	f := buildFixture(t)

	tests := []struct {
		name string
		call func() error
	}{
		{"wrong kind", func() error { _, err := f.md.TypeReference(f.bar); return err }},
		{"nil handle", func() error {
			_, err := f.md.TypeDefinition(metadata.NewHandle(metadata.KindTypeDef, 0))
			return err
		}},
		{"row out of range", func() error {
			_, err := f.md.MethodDefinition(metadata.NewHandle(metadata.KindMethodDef, 9))
			return err
		}},
		{"unknown namespace", func() error {
			_, err := f.md.NamespaceDefinition(metadata.NewHandle(metadata.KindNamespace, 40))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), metadata.ErrInvalidHandle)
		})
	}
}

func TestHeapBounds(t *testing.T) {
	f := buildFixture(t)

	_, err := f.md.String(metadata.StringHandle(0xfff0))
	assert.ErrorIs(t, err, metadata.ErrInvalidHeap)
	_, err = f.md.Blob(metadata.BlobHandle(0xfff0))
	assert.ErrorIs(t, err, metadata.ErrInvalidHeap)
	_, err = f.md.GUID(metadata.GUIDHandle(50))
	assert.ErrorIs(t, err, metadata.ErrInvalidHeap)

	empty, err := f.md.String(0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHandleEncoding(t *testing.T) {
	h := metadata.HandleFromToken(0x06000012)
	assert.Equal(t, metadata.KindMethodDef, h.Kind())
	assert.Equal(t, uint32(0x12), h.Row())
	assert.Equal(t, uint32(0x06000012), h.Token())
	assert.False(t, h.IsNil())
	assert.Equal(t, "MethodDef[0x000012]", h.String())
	assert.True(t, metadata.NewHandle(metadata.KindTypeRef, 0).IsNil())
	assert.Equal(t, "Kind(0x40)", metadata.Kind(0x40).String())
}
