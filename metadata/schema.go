package metadata

// colType is the storage class of a table column.
type colType uint8

const (
	colU16 colType = iota
	colU32
	colString
	colGUID
	colBlob
	colTable
	colCoded
)

type column struct {
	typ   colType
	table Kind        // colTable
	coded *codedIndex // colCoded
}

func colOfU16() column                { return column{typ: colU16} }
func colOfU32() column                { return column{typ: colU32} }
func colOfString() column             { return column{typ: colString} }
func colOfGUID() column               { return column{typ: colGUID} }
func colOfBlob() column               { return column{typ: colBlob} }
func colOfTable(k Kind) column        { return column{typ: colTable, table: k} }
func colOfCoded(c *codedIndex) column { return column{typ: colCoded, coded: c} }

// codedIndex describes an ECMA-335 II.24.2.6 coded index: the low bits
// select a table, the remaining bits hold the row.
type codedIndex struct {
	name   string
	bits   uint
	tables []Kind
}

func (c *codedIndex) decode(v uint32) Handle {
	tag := v & (1<<c.bits - 1)
	if int(tag) >= len(c.tables) || c.tables[tag] == kindNone {
		return 0
	}
	return NewHandle(c.tables[tag], v>>c.bits)
}

var (
	typeDefOrRef = &codedIndex{"TypeDefOrRef", 2,
		[]Kind{KindTypeDef, KindTypeRef, KindTypeSpec}}
	hasConstant = &codedIndex{"HasConstant", 2,
		[]Kind{KindField, KindParam, KindProperty}}
	hasCustomAttribute = &codedIndex{"HasCustomAttribute", 5,
		[]Kind{KindMethodDef, KindField, KindTypeRef, KindTypeDef, KindParam,
			KindInterfaceImpl, KindMemberRef, KindModule, KindDeclSecurity,
			KindProperty, KindEvent, KindStandAloneSig, KindModuleRef,
			KindTypeSpec, KindAssembly, KindAssemblyRef, KindFile, KindExportedType,
			KindManifestResource, KindGenericParam, KindGenericParamConstraint,
			KindMethodSpec}}
	hasFieldMarshal = &codedIndex{"HasFieldMarshal", 1,
		[]Kind{KindField, KindParam}}
	hasDeclSecurity = &codedIndex{"HasDeclSecurity", 2,
		[]Kind{KindTypeDef, KindMethodDef, KindAssembly}}
	memberRefParent = &codedIndex{"MemberRefParent", 3,
		[]Kind{KindTypeDef, KindTypeRef, KindModuleRef, KindMethodDef, KindTypeSpec}}
	hasSemantics = &codedIndex{"HasSemantics", 1,
		[]Kind{KindEvent, KindProperty}}
	methodDefOrRef = &codedIndex{"MethodDefOrRef", 1,
		[]Kind{KindMethodDef, KindMemberRef}}
	memberForwarded = &codedIndex{"MemberForwarded", 1,
		[]Kind{KindField, KindMethodDef}}
	implementation = &codedIndex{"Implementation", 2,
		[]Kind{KindFile, KindAssemblyRef, KindExportedType}}
	customAttributeType = &codedIndex{"CustomAttributeType", 3,
		[]Kind{kindNone, kindNone, KindMethodDef, KindMemberRef, kindNone}}
	resolutionScope = &codedIndex{"ResolutionScope", 2,
		[]Kind{KindModule, KindModuleRef, KindAssemblyRef, KindTypeRef}}
	typeOrMethodDef = &codedIndex{"TypeOrMethodDef", 1,
		[]Kind{KindTypeDef, KindMethodDef}}
	hasCustomDebugInformation = &codedIndex{"HasCustomDebugInformation", 5,
		[]Kind{KindMethodDef, KindField, KindTypeRef, KindTypeDef, KindParam,
			KindInterfaceImpl, KindMemberRef, KindModule, KindDeclSecurity,
			KindProperty, KindEvent, KindStandAloneSig, KindModuleRef,
			KindTypeSpec, KindAssembly, KindAssemblyRef, KindFile, KindExportedType,
			KindManifestResource, KindGenericParam, KindGenericParamConstraint,
			KindMethodSpec, KindDocument, KindLocalScope, KindLocalVariable,
			KindLocalConstant, KindImportScope}}
)

// schemas lists the columns of every known table in declaration order.
var schemas = map[Kind][]column{
	KindModule:                 {colOfU16(), colOfString(), colOfGUID(), colOfGUID(), colOfGUID()},
	KindTypeRef:                {colOfCoded(resolutionScope), colOfString(), colOfString()},
	KindTypeDef:                {colOfU32(), colOfString(), colOfString(), colOfCoded(typeDefOrRef), colOfTable(KindField), colOfTable(KindMethodDef)},
	KindFieldPtr:               {colOfTable(KindField)},
	KindField:                  {colOfU16(), colOfString(), colOfBlob()},
	KindMethodPtr:              {colOfTable(KindMethodDef)},
	KindMethodDef:              {colOfU32(), colOfU16(), colOfU16(), colOfString(), colOfBlob(), colOfTable(KindParam)},
	KindParamPtr:               {colOfTable(KindParam)},
	KindParam:                  {colOfU16(), colOfU16(), colOfString()},
	KindInterfaceImpl:          {colOfTable(KindTypeDef), colOfCoded(typeDefOrRef)},
	KindMemberRef:              {colOfCoded(memberRefParent), colOfString(), colOfBlob()},
	KindConstant:               {colOfU16(), colOfCoded(hasConstant), colOfBlob()},
	KindCustomAttribute:        {colOfCoded(hasCustomAttribute), colOfCoded(customAttributeType), colOfBlob()},
	KindFieldMarshal:           {colOfCoded(hasFieldMarshal), colOfBlob()},
	KindDeclSecurity:           {colOfU16(), colOfCoded(hasDeclSecurity), colOfBlob()},
	KindClassLayout:            {colOfU16(), colOfU32(), colOfTable(KindTypeDef)},
	KindFieldLayout:            {colOfU32(), colOfTable(KindField)},
	KindStandAloneSig:          {colOfBlob()},
	KindEventMap:               {colOfTable(KindTypeDef), colOfTable(KindEvent)},
	KindEventPtr:               {colOfTable(KindEvent)},
	KindEvent:                  {colOfU16(), colOfString(), colOfCoded(typeDefOrRef)},
	KindPropertyMap:            {colOfTable(KindTypeDef), colOfTable(KindProperty)},
	KindPropertyPtr:            {colOfTable(KindProperty)},
	KindProperty:               {colOfU16(), colOfString(), colOfBlob()},
	KindMethodSemantics:        {colOfU16(), colOfTable(KindMethodDef), colOfCoded(hasSemantics)},
	KindMethodImpl:             {colOfTable(KindTypeDef), colOfCoded(methodDefOrRef), colOfCoded(methodDefOrRef)},
	KindModuleRef:              {colOfString()},
	KindTypeSpec:               {colOfBlob()},
	KindImplMap:                {colOfU16(), colOfCoded(memberForwarded), colOfString(), colOfTable(KindModuleRef)},
	KindFieldRVA:               {colOfU32(), colOfTable(KindField)},
	KindEncLog:                 {colOfU32(), colOfU32()},
	KindEncMap:                 {colOfU32()},
	KindAssembly:               {colOfU32(), colOfU16(), colOfU16(), colOfU16(), colOfU16(), colOfU32(), colOfBlob(), colOfString(), colOfString()},
	KindAssemblyProcessor:      {colOfU32()},
	KindAssemblyOS:             {colOfU32(), colOfU32(), colOfU32()},
	KindAssemblyRef:            {colOfU16(), colOfU16(), colOfU16(), colOfU16(), colOfU32(), colOfBlob(), colOfString(), colOfString(), colOfBlob()},
	KindAssemblyRefProcessor:   {colOfU32(), colOfTable(KindAssemblyRef)},
	KindAssemblyRefOS:          {colOfU32(), colOfU32(), colOfU32(), colOfTable(KindAssemblyRef)},
	KindFile:                   {colOfU32(), colOfString(), colOfBlob()},
	KindExportedType:           {colOfU32(), colOfU32(), colOfString(), colOfString(), colOfCoded(implementation)},
	KindManifestResource:       {colOfU32(), colOfU32(), colOfString(), colOfCoded(implementation)},
	KindNestedClass:            {colOfTable(KindTypeDef), colOfTable(KindTypeDef)},
	KindGenericParam:           {colOfU16(), colOfU16(), colOfCoded(typeOrMethodDef), colOfString()},
	KindMethodSpec:             {colOfCoded(methodDefOrRef), colOfBlob()},
	KindGenericParamConstraint: {colOfTable(KindGenericParam), colOfCoded(typeDefOrRef)},

	KindDocument:               {colOfBlob(), colOfGUID(), colOfBlob(), colOfGUID()},
	KindMethodDebugInformation: {colOfTable(KindDocument), colOfBlob()},
	KindLocalScope:             {colOfTable(KindMethodDef), colOfTable(KindImportScope), colOfTable(KindLocalVariable), colOfTable(KindLocalConstant), colOfU32(), colOfU32()},
	KindLocalVariable:          {colOfU16(), colOfU16(), colOfString()},
	KindLocalConstant:          {colOfString(), colOfBlob()},
	KindImportScope:            {colOfTable(KindImportScope), colOfBlob()},
	KindStateMachineMethod:     {colOfTable(KindMethodDef), colOfTable(KindMethodDef)},
	KindCustomDebugInformation: {colOfCoded(hasCustomDebugInformation), colOfGUID(), colOfBlob()},
}

// Column positions used by the record accessors.
const (
	colTypeRefScope     = 0
	colTypeRefName      = 1
	colTypeRefNamespace = 2

	colTypeDefFlags     = 0
	colTypeDefName      = 1
	colTypeDefNamespace = 2
	colTypeDefExtends   = 3
	colTypeDefFieldList = 4
	colTypeDefMethods   = 5

	colFieldFlags     = 0
	colFieldName      = 1
	colFieldSignature = 2

	colMethodRVA       = 0
	colMethodImplFlags = 1
	colMethodFlags     = 2
	colMethodName      = 3
	colMethodSignature = 4
	colMethodParamList = 5

	colMemberRefParent    = 0
	colMemberRefName      = 1
	colMemberRefSignature = 2

	colAssemblyRefMajor     = 0
	colAssemblyRefFlags     = 4
	colAssemblyRefPublicKey = 5
	colAssemblyRefName      = 6
	colAssemblyRefCulture   = 7
	colAssemblyRefHash      = 8

	colNestedClass     = 0
	colNestedEnclosing = 1

	colGenericParamNumber = 0
	colGenericParamFlags  = 1
	colGenericParamOwner  = 2
	colGenericParamName   = 3

	colStandAloneSigBlob = 0

	colModuleName = 1
	colModuleMvid = 2

	colDocumentName     = 0
	colDocumentHashAlg  = 1
	colDocumentHash     = 2
	colDocumentLanguage = 3

	colMethodDebugDocument = 0
	colMethodDebugPoints   = 1
)
