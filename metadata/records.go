package metadata

import (
	"fmt"
	"iter"
	"sort"
)

// TypeReference is a row of the TypeRef table.
type TypeReference struct {
	ResolutionScope Handle
	Name            StringHandle
	Namespace       StringHandle
}

// TypeDefinition is a row of the TypeDef table.
type TypeDefinition struct {
	Attributes uint32
	Name       StringHandle
	Namespace  StringHandle
	// NamespaceDefinition is nil for types in the global namespace,
	// including nested types.
	NamespaceDefinition Handle
	BaseType            Handle
	FieldList           uint32
	MethodList          uint32
}

// FieldDefinition is a row of the Field table.
type FieldDefinition struct {
	Attributes    uint16
	Name          StringHandle
	Signature     BlobHandle
	DeclaringType Handle
}

// MethodDefinition is a row of the MethodDef table.
type MethodDefinition struct {
	// RVA of the method body; zero for abstract, extern and runtime methods.
	RVA            uint32
	ImplAttributes uint16
	Attributes     uint16
	Name           StringHandle
	Signature      BlobHandle
	ParamList      uint32
	DeclaringType  Handle
}

// MemberReference is a row of the MemberRef table.
type MemberReference struct {
	Parent    Handle
	Name      StringHandle
	Signature BlobHandle
}

// AssemblyReference is a row of the AssemblyRef table.
type AssemblyReference struct {
	Version          [4]uint16
	Flags            uint32
	PublicKeyOrToken BlobHandle
	Name             StringHandle
	Culture          StringHandle
	HashValue        BlobHandle
}

// GenericParameter is a row of the GenericParam table.
type GenericParameter struct {
	Number     uint16
	Attributes uint16
	Owner      Handle
	Name       StringHandle
}

// Module is the single row of the Module table.
type Module struct {
	Name StringHandle
	Mvid GUIDHandle
}

func checkKind(h Handle, want Kind) error {
	if h.Kind() != want || h.IsNil() {
		return invalidHandle(h, want)
	}
	return nil
}

// Module returns the module row.
func (md *Reader) Module() (Module, error) {
	name, err := md.cell(KindModule, 1, colModuleName)
	if err != nil {
		return Module{}, err
	}
	mvid, err := md.cell(KindModule, 1, colModuleMvid)
	if err != nil {
		return Module{}, err
	}
	return Module{Name: StringHandle(name), Mvid: GUIDHandle(mvid)}, nil
}

// TypeReference returns the TypeRef row for h.
func (md *Reader) TypeReference(h Handle) (TypeReference, error) {
	if err := checkKind(h, KindTypeRef); err != nil {
		return TypeReference{}, err
	}
	row := h.Row()
	scope, err := md.codedCell(KindTypeRef, row, colTypeRefScope)
	if err != nil {
		return TypeReference{}, err
	}
	name, err := md.cell(KindTypeRef, row, colTypeRefName)
	if err != nil {
		return TypeReference{}, err
	}
	ns, err := md.cell(KindTypeRef, row, colTypeRefNamespace)
	if err != nil {
		return TypeReference{}, err
	}
	return TypeReference{
		ResolutionScope: scope,
		Name:            StringHandle(name),
		Namespace:       StringHandle(ns),
	}, nil
}

// TypeDefinition returns the TypeDef row for h.
func (md *Reader) TypeDefinition(h Handle) (TypeDefinition, error) {
	if err := checkKind(h, KindTypeDef); err != nil {
		return TypeDefinition{}, err
	}
	row := h.Row()
	var vals [6]uint32
	for col := range vals {
		if col == colTypeDefExtends {
			continue
		}
		v, err := md.cell(KindTypeDef, row, col)
		if err != nil {
			return TypeDefinition{}, err
		}
		vals[col] = v
	}
	extends, err := md.codedCell(KindTypeDef, row, colTypeDefExtends)
	if err != nil {
		return TypeDefinition{}, err
	}
	if err := md.loadNamespaces(); err != nil {
		return TypeDefinition{}, err
	}
	return TypeDefinition{
		Attributes:          vals[colTypeDefFlags],
		Name:                StringHandle(vals[colTypeDefName]),
		Namespace:           StringHandle(vals[colTypeDefNamespace]),
		NamespaceDefinition: md.typeNamespaces[row],
		BaseType:            extends,
		FieldList:           vals[colTypeDefFieldList],
		MethodList:          vals[colTypeDefMethods],
	}, nil
}

// FieldDefinition returns the Field row for h.
func (md *Reader) FieldDefinition(h Handle) (FieldDefinition, error) {
	if err := checkKind(h, KindField); err != nil {
		return FieldDefinition{}, err
	}
	row := h.Row()
	flags, err := md.cell(KindField, row, colFieldFlags)
	if err != nil {
		return FieldDefinition{}, err
	}
	name, err := md.cell(KindField, row, colFieldName)
	if err != nil {
		return FieldDefinition{}, err
	}
	sig, err := md.cell(KindField, row, colFieldSignature)
	if err != nil {
		return FieldDefinition{}, err
	}
	owner, err := md.declaringType(KindFieldPtr, colTypeDefFieldList, row)
	if err != nil {
		return FieldDefinition{}, err
	}
	return FieldDefinition{
		Attributes:    uint16(flags),
		Name:          StringHandle(name),
		Signature:     BlobHandle(sig),
		DeclaringType: owner,
	}, nil
}

// MethodDefinition returns the MethodDef row for h.
func (md *Reader) MethodDefinition(h Handle) (MethodDefinition, error) {
	if err := checkKind(h, KindMethodDef); err != nil {
		return MethodDefinition{}, err
	}
	row := h.Row()
	var vals [6]uint32
	for col := range vals {
		v, err := md.cell(KindMethodDef, row, col)
		if err != nil {
			return MethodDefinition{}, err
		}
		vals[col] = v
	}
	owner, err := md.declaringType(KindMethodPtr, colTypeDefMethods, row)
	if err != nil {
		return MethodDefinition{}, err
	}
	return MethodDefinition{
		RVA:            vals[colMethodRVA],
		ImplAttributes: uint16(vals[colMethodImplFlags]),
		Attributes:     uint16(vals[colMethodFlags]),
		Name:           StringHandle(vals[colMethodName]),
		Signature:      BlobHandle(vals[colMethodSignature]),
		ParamList:      vals[colMethodParamList],
		DeclaringType:  owner,
	}, nil
}

// MemberReference returns the MemberRef row for h.
func (md *Reader) MemberReference(h Handle) (MemberReference, error) {
	if err := checkKind(h, KindMemberRef); err != nil {
		return MemberReference{}, err
	}
	row := h.Row()
	parent, err := md.codedCell(KindMemberRef, row, colMemberRefParent)
	if err != nil {
		return MemberReference{}, err
	}
	name, err := md.cell(KindMemberRef, row, colMemberRefName)
	if err != nil {
		return MemberReference{}, err
	}
	sig, err := md.cell(KindMemberRef, row, colMemberRefSignature)
	if err != nil {
		return MemberReference{}, err
	}
	return MemberReference{
		Parent:    parent,
		Name:      StringHandle(name),
		Signature: BlobHandle(sig),
	}, nil
}

// AssemblyReference returns the AssemblyRef row for h.
func (md *Reader) AssemblyReference(h Handle) (AssemblyReference, error) {
	if err := checkKind(h, KindAssemblyRef); err != nil {
		return AssemblyReference{}, err
	}
	row := h.Row()
	var vals [9]uint32
	for col := range vals {
		v, err := md.cell(KindAssemblyRef, row, col)
		if err != nil {
			return AssemblyReference{}, err
		}
		vals[col] = v
	}
	ref := AssemblyReference{
		Flags:            vals[colAssemblyRefFlags],
		PublicKeyOrToken: BlobHandle(vals[colAssemblyRefPublicKey]),
		Name:             StringHandle(vals[colAssemblyRefName]),
		Culture:          StringHandle(vals[colAssemblyRefCulture]),
		HashValue:        BlobHandle(vals[colAssemblyRefHash]),
	}
	for i := range ref.Version {
		ref.Version[i] = uint16(vals[colAssemblyRefMajor+i])
	}
	return ref, nil
}

// StandaloneSignature returns the signature blob of a StandAloneSig row.
func (md *Reader) StandaloneSignature(h Handle) (BlobHandle, error) {
	if err := checkKind(h, KindStandAloneSig); err != nil {
		return 0, err
	}
	v, err := md.cell(KindStandAloneSig, h.Row(), colStandAloneSigBlob)
	return BlobHandle(v), err
}

// TypeSpecification returns the signature blob of a TypeSpec row.
func (md *Reader) TypeSpecification(h Handle) (BlobHandle, error) {
	if err := checkKind(h, KindTypeSpec); err != nil {
		return 0, err
	}
	v, err := md.cell(KindTypeSpec, h.Row(), 0)
	return BlobHandle(v), err
}

// GenericParameters returns the generic parameters owned by a TypeDef or
// MethodDef, ordered by number.
func (md *Reader) GenericParameters(owner Handle) ([]GenericParameter, error) {
	var params []GenericParameter
	for row := uint32(1); row <= md.rows[KindGenericParam]; row++ {
		o, err := md.codedCell(KindGenericParam, row, colGenericParamOwner)
		if err != nil {
			return nil, err
		}
		if o != owner {
			continue
		}
		number, err := md.cell(KindGenericParam, row, colGenericParamNumber)
		if err != nil {
			return nil, err
		}
		flags, err := md.cell(KindGenericParam, row, colGenericParamFlags)
		if err != nil {
			return nil, err
		}
		name, err := md.cell(KindGenericParam, row, colGenericParamName)
		if err != nil {
			return nil, err
		}
		params = append(params, GenericParameter{
			Number:     uint16(number),
			Attributes: uint16(flags),
			Owner:      o,
			Name:       StringHandle(name),
		})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Number < params[j].Number })
	return params, nil
}

// EnclosingType returns the type a nested TypeDef is declared in, or the
// nil handle for top-level types.
func (md *Reader) EnclosingType(h Handle) (Handle, error) {
	if err := checkKind(h, KindTypeDef); err != nil {
		return 0, err
	}
	for row := uint32(1); row <= md.rows[KindNestedClass]; row++ {
		nested, err := md.cell(KindNestedClass, row, colNestedClass)
		if err != nil {
			return 0, err
		}
		if nested != h.Row() {
			continue
		}
		enclosing, err := md.cell(KindNestedClass, row, colNestedEnclosing)
		if err != nil {
			return 0, err
		}
		return NewHandle(KindTypeDef, enclosing), nil
	}
	return NewHandle(KindTypeDef, 0), nil
}

// TypeDefinitions returns an iterator over all TypeDef handles.
func (md *Reader) TypeDefinitions() iter.Seq[Handle] {
	return md.handles(KindTypeDef)
}

// MethodDefinitions returns an iterator over all MethodDef handles.
func (md *Reader) MethodDefinitions() iter.Seq[Handle] {
	return md.handles(KindMethodDef)
}

func (md *Reader) handles(k Kind) iter.Seq[Handle] {
	return func(yield func(Handle) bool) {
		for row := uint32(1); row <= md.rows[k]; row++ {
			if !yield(NewHandle(k, row)) {
				return
			}
		}
	}
}

// declaringType finds the TypeDef whose member list covers row. The
// TypeDef list columns are non-decreasing, so the owner is the last type
// whose list starts at or before the member's position.
func (md *Reader) declaringType(ptr Kind, listCol int, row uint32) (Handle, error) {
	pos, err := md.memberPosition(ptr, row)
	if err != nil {
		return 0, err
	}

	n := int(md.rows[KindTypeDef])
	var searchErr error
	i := sort.Search(n, func(i int) bool {
		start, err := md.cell(KindTypeDef, uint32(i+1), listCol)
		if err != nil {
			searchErr = err
			return true
		}
		return start > pos
	})
	if searchErr != nil {
		return 0, searchErr
	}
	if i == 0 {
		return NewHandle(KindTypeDef, 0), nil
	}
	return NewHandle(KindTypeDef, uint32(i)), nil
}

// memberPosition maps a Field or MethodDef row to its position in the
// TypeDef member lists, which index the pointer table when one exists.
func (md *Reader) memberPosition(ptr Kind, row uint32) (uint32, error) {
	if md.rows[ptr] == 0 {
		return row, nil
	}
	if err := md.loadPointerTables(); err != nil {
		return 0, err
	}
	positions := md.methodPos
	if ptr == KindFieldPtr {
		positions = md.fieldPos
	}
	pos, ok := positions[row]
	if !ok {
		return 0, fmt.Errorf("%w: row %d missing from %s", ErrInvalidHandle, row, ptr)
	}
	return pos, nil
}

func (md *Reader) loadPointerTables() error {
	md.ptrsOnce.Do(func() {
		md.fieldPos, md.ptrsErr = md.invertPointerTable(KindFieldPtr)
		if md.ptrsErr != nil {
			return
		}
		md.methodPos, md.ptrsErr = md.invertPointerTable(KindMethodPtr)
	})
	return md.ptrsErr
}

func (md *Reader) invertPointerTable(ptr Kind) (map[uint32]uint32, error) {
	m := make(map[uint32]uint32, md.rows[ptr])
	for pos := uint32(1); pos <= md.rows[ptr]; pos++ {
		target, err := md.cell(ptr, pos, 0)
		if err != nil {
			return nil, err
		}
		m[target] = pos
	}
	return m, nil
}
