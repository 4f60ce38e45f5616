// Package signature decodes ECMA-335 II.23.2 signature blobs into a
// caller-chosen type representation.
//
// The decoder walks the blob and hands every type it encounters to a
// TypeProvider, which builds values of type T. A provider that renders
// names produces strings; one that builds a type graph produces nodes.
package signature

import (
	"errors"
	"fmt"

	"github.com/skdltmxn/clrsym/metadata"
)

// ErrBadSignature indicates a malformed signature blob.
var ErrBadSignature = errors.New("signature: invalid signature")

// PrimitiveTypeCode is an element type with no further payload.
type PrimitiveTypeCode byte

const (
	Void           PrimitiveTypeCode = 0x01
	Boolean        PrimitiveTypeCode = 0x02
	Char           PrimitiveTypeCode = 0x03
	SByte          PrimitiveTypeCode = 0x04
	Byte           PrimitiveTypeCode = 0x05
	Int16          PrimitiveTypeCode = 0x06
	UInt16         PrimitiveTypeCode = 0x07
	Int32          PrimitiveTypeCode = 0x08
	UInt32         PrimitiveTypeCode = 0x09
	Int64          PrimitiveTypeCode = 0x0a
	UInt64         PrimitiveTypeCode = 0x0b
	Single         PrimitiveTypeCode = 0x0c
	Double         PrimitiveTypeCode = 0x0d
	String         PrimitiveTypeCode = 0x0e
	TypedReference PrimitiveTypeCode = 0x16
	IntPtr         PrimitiveTypeCode = 0x18
	UIntPtr        PrimitiveTypeCode = 0x19
	Object         PrimitiveTypeCode = 0x1c
)

var primitiveNames = map[PrimitiveTypeCode]string{
	Void:           "System.Void",
	Boolean:        "System.Boolean",
	Char:           "System.Char",
	SByte:          "System.SByte",
	Byte:           "System.Byte",
	Int16:          "System.Int16",
	UInt16:         "System.UInt16",
	Int32:          "System.Int32",
	UInt32:         "System.UInt32",
	Int64:          "System.Int64",
	UInt64:         "System.UInt64",
	Single:         "System.Single",
	Double:         "System.Double",
	String:         "System.String",
	TypedReference: "System.TypedReference",
	IntPtr:         "System.IntPtr",
	UIntPtr:        "System.UIntPtr",
	Object:         "System.Object",
}

// String returns the full name of the corresponding System type.
func (c PrimitiveTypeCode) String() string {
	if name, ok := primitiveNames[c]; ok {
		return name
	}
	return fmt.Sprintf("PrimitiveTypeCode(0x%02x)", byte(c))
}

// Element type codes that carry a payload.
const (
	elemPtr         = 0x0f
	elemByRef       = 0x10
	elemValueType   = 0x11
	elemClass       = 0x12
	elemVar         = 0x13
	elemArray       = 0x14
	elemGenericInst = 0x15
	elemFnPtr       = 0x1b
	elemSZArray     = 0x1d
	elemMVar        = 0x1e
	elemCModReqd    = 0x1f
	elemCModOpt     = 0x20
	elemSentinel    = 0x41
	elemPinned      = 0x45
)

// RawTypeKind distinguishes class from value type references.
type RawTypeKind byte

const (
	RawTypeClass     RawTypeKind = elemClass
	RawTypeValueType RawTypeKind = elemValueType
)

// Kind is the kind of a signature, taken from its header.
type Kind byte

const (
	KindMethod      Kind = 0x00
	KindField       Kind = 0x06
	KindLocal       Kind = 0x07
	KindProperty    Kind = 0x08
	KindMethodSpec  Kind = 0x0a
	kindMask             = 0x0f
	callingConvMask      = 0x0f
	headerGeneric        = 0x10
	headerHasThis        = 0x20
	headerExplicit       = 0x40
)

// Header is the first byte of a signature.
type Header byte

// Kind returns the signature kind. Every calling convention is a method.
func (h Header) Kind() Kind {
	switch k := Kind(h & kindMask); k {
	case KindField, KindLocal, KindProperty, KindMethodSpec:
		return k
	}
	return KindMethod
}

// CallingConvention returns the low calling convention bits.
func (h Header) CallingConvention() byte { return byte(h) & callingConvMask }

// IsGeneric reports whether a method signature declares generic parameters.
func (h Header) IsGeneric() bool { return h&headerGeneric != 0 }

// HasThis reports an instance method.
func (h Header) HasThis() bool { return h&headerHasThis != 0 }

// ExplicitThis reports an explicit this parameter.
func (h Header) ExplicitThis() bool { return h&headerExplicit != 0 }

// ArrayShape is the shape of a general array.
type ArrayShape struct {
	Rank        int
	Sizes       []int
	LowerBounds []int
}

// MethodSignature is a decoded method or function pointer signature.
type MethodSignature[T any] struct {
	Header                 Header
	GenericParameterCount  int
	RequiredParameterCount int
	ReturnType             T
	ParameterTypes         []T
}

// GenericContext holds the type arguments generic parameters resolve to.
type GenericContext[T any] struct {
	TypeParameters   []T
	MethodParameters []T
}

// TypeProvider builds type values while a signature is decoded.
type TypeProvider[T any] interface {
	Primitive(code PrimitiveTypeCode) T
	TypeFromDefinition(h metadata.Handle, kind RawTypeKind) T
	TypeFromReference(h metadata.Handle, kind RawTypeKind) T
	TypeFromSpecification(h metadata.Handle, ctx GenericContext[T]) (T, error)
	SZArray(elem T) T
	Array(elem T, shape ArrayShape) T
	ByReference(elem T) T
	Pointer(elem T) T
	Pinned(elem T) T
	GenericInstantiation(generic T, args []T) T
	GenericTypeParameter(ctx GenericContext[T], index int) T
	GenericMethodParameter(ctx GenericContext[T], index int) T
	FunctionPointer(sig MethodSignature[T]) T
	ModifiedType(modifier, unmodified T, required bool) T
}
