package metadata

import "fmt"

// Kind identifies the table a Handle points into. Values below 0x40 are
// the physical table numbers of ECMA-335 II.22 and the portable PDB
// format; higher values are virtual kinds synthesized by the reader.
type Kind uint8

const (
	KindModule                 Kind = 0x00
	KindTypeRef                Kind = 0x01
	KindTypeDef                Kind = 0x02
	KindFieldPtr               Kind = 0x03
	KindField                  Kind = 0x04
	KindMethodPtr              Kind = 0x05
	KindMethodDef              Kind = 0x06
	KindParamPtr               Kind = 0x07
	KindParam                  Kind = 0x08
	KindInterfaceImpl          Kind = 0x09
	KindMemberRef              Kind = 0x0a
	KindConstant               Kind = 0x0b
	KindCustomAttribute        Kind = 0x0c
	KindFieldMarshal           Kind = 0x0d
	KindDeclSecurity           Kind = 0x0e
	KindClassLayout            Kind = 0x0f
	KindFieldLayout            Kind = 0x10
	KindStandAloneSig          Kind = 0x11
	KindEventMap               Kind = 0x12
	KindEventPtr               Kind = 0x13
	KindEvent                  Kind = 0x14
	KindPropertyMap            Kind = 0x15
	KindPropertyPtr            Kind = 0x16
	KindProperty               Kind = 0x17
	KindMethodSemantics        Kind = 0x18
	KindMethodImpl             Kind = 0x19
	KindModuleRef              Kind = 0x1a
	KindTypeSpec               Kind = 0x1b
	KindImplMap                Kind = 0x1c
	KindFieldRVA               Kind = 0x1d
	KindEncLog                 Kind = 0x1e
	KindEncMap                 Kind = 0x1f
	KindAssembly               Kind = 0x20
	KindAssemblyProcessor      Kind = 0x21
	KindAssemblyOS             Kind = 0x22
	KindAssemblyRef            Kind = 0x23
	KindAssemblyRefProcessor   Kind = 0x24
	KindAssemblyRefOS          Kind = 0x25
	KindFile                   Kind = 0x26
	KindExportedType           Kind = 0x27
	KindManifestResource       Kind = 0x28
	KindNestedClass            Kind = 0x29
	KindGenericParam           Kind = 0x2a
	KindMethodSpec             Kind = 0x2b
	KindGenericParamConstraint Kind = 0x2c

	// Portable PDB tables.
	KindDocument               Kind = 0x30
	KindMethodDebugInformation Kind = 0x31
	KindLocalScope             Kind = 0x32
	KindLocalVariable          Kind = 0x33
	KindLocalConstant          Kind = 0x34
	KindImportScope            Kind = 0x35
	KindStateMachineMethod     Kind = 0x36
	KindCustomDebugInformation Kind = 0x37

	// KindNamespace is built from the namespace strings of TypeDef rows;
	// it has no physical table.
	KindNamespace Kind = 0x7c
)

// maxTables is the number of physical table slots in the #~ header.
const maxTables = 64

// kindNone marks an unused slot in a coded index.
const kindNone Kind = 0xff

var kindNames = map[Kind]string{
	KindModule:                 "Module",
	KindTypeRef:                "TypeRef",
	KindTypeDef:                "TypeDef",
	KindFieldPtr:               "FieldPtr",
	KindField:                  "Field",
	KindMethodPtr:              "MethodPtr",
	KindMethodDef:              "MethodDef",
	KindParamPtr:               "ParamPtr",
	KindParam:                  "Param",
	KindInterfaceImpl:          "InterfaceImpl",
	KindMemberRef:              "MemberRef",
	KindConstant:               "Constant",
	KindCustomAttribute:        "CustomAttribute",
	KindFieldMarshal:           "FieldMarshal",
	KindDeclSecurity:           "DeclSecurity",
	KindClassLayout:            "ClassLayout",
	KindFieldLayout:            "FieldLayout",
	KindStandAloneSig:          "StandAloneSig",
	KindEventMap:               "EventMap",
	KindEventPtr:               "EventPtr",
	KindEvent:                  "Event",
	KindPropertyMap:            "PropertyMap",
	KindPropertyPtr:            "PropertyPtr",
	KindProperty:               "Property",
	KindMethodSemantics:        "MethodSemantics",
	KindMethodImpl:             "MethodImpl",
	KindModuleRef:              "ModuleRef",
	KindTypeSpec:               "TypeSpec",
	KindImplMap:                "ImplMap",
	KindFieldRVA:               "FieldRVA",
	KindEncLog:                 "EncLog",
	KindEncMap:                 "EncMap",
	KindAssembly:               "Assembly",
	KindAssemblyProcessor:      "AssemblyProcessor",
	KindAssemblyOS:             "AssemblyOS",
	KindAssemblyRef:            "AssemblyRef",
	KindAssemblyRefProcessor:   "AssemblyRefProcessor",
	KindAssemblyRefOS:          "AssemblyRefOS",
	KindFile:                   "File",
	KindExportedType:           "ExportedType",
	KindManifestResource:       "ManifestResource",
	KindNestedClass:            "NestedClass",
	KindGenericParam:           "GenericParam",
	KindMethodSpec:             "MethodSpec",
	KindGenericParamConstraint: "GenericParamConstraint",
	KindDocument:               "Document",
	KindMethodDebugInformation: "MethodDebugInformation",
	KindLocalScope:             "LocalScope",
	KindLocalVariable:          "LocalVariable",
	KindLocalConstant:          "LocalConstant",
	KindImportScope:            "ImportScope",
	KindStateMachineMethod:     "StateMachineMethod",
	KindCustomDebugInformation: "CustomDebugInformation",
	KindNamespace:              "NamespaceDefinition",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(0x%02x)", uint8(k))
}

// Handle is a reference to a metadata row in token form: the kind in the
// high byte and the 1-based row number in the low 24 bits. A zero row is
// the nil handle of that kind.
type Handle uint32

// NewHandle builds a handle from a kind and row number.
func NewHandle(kind Kind, row uint32) Handle {
	return Handle(uint32(kind)<<24 | row&0x00FFFFFF)
}

// HandleFromToken converts a raw metadata token into a handle.
func HandleFromToken(token uint32) Handle {
	return Handle(token)
}

// Kind returns the table the handle refers to.
func (h Handle) Kind() Kind { return Kind(h >> 24) }

// Row returns the 1-based row number.
func (h Handle) Row() uint32 { return uint32(h) & 0x00FFFFFF }

// IsNil reports whether the handle refers to no row.
func (h Handle) IsNil() bool { return h.Row() == 0 }

// Token returns the raw metadata token.
func (h Handle) Token() uint32 { return uint32(h) }

func (h Handle) String() string {
	return fmt.Sprintf("%s[0x%06x]", h.Kind(), h.Row())
}

// StringHandle is an offset into the #Strings heap.
type StringHandle uint32

// IsNil reports whether the handle refers to no string.
func (h StringHandle) IsNil() bool { return h == 0 }

// BlobHandle is an offset into the #Blob heap.
type BlobHandle uint32

// IsNil reports whether the handle refers to no blob.
func (h BlobHandle) IsNil() bool { return h == 0 }

// GUIDHandle is a 1-based index into the #GUID heap.
type GUIDHandle uint32

// IsNil reports whether the handle refers to no GUID.
func (h GUIDHandle) IsNil() bool { return h == 0 }
