package signature

import (
	"fmt"

	"github.com/skdltmxn/clrsym/internal/stream"
	"github.com/skdltmxn/clrsym/metadata"
)

// Decoder decodes signature blobs with a fixed provider and generic
// context.
type Decoder[T any] struct {
	provider TypeProvider[T]
	ctx      GenericContext[T]
}

// NewDecoder returns a decoder using p to build types.
func NewDecoder[T any](p TypeProvider[T], ctx GenericContext[T]) *Decoder[T] {
	return &Decoder[T]{provider: p, ctx: ctx}
}

// DecodeLocalSignature decodes a LOCAL_SIG blob into its variable types,
// in declaration order.
func (d *Decoder[T]) DecodeLocalSignature(blob []byte) ([]T, error) {
	r := stream.NewReader(blob)
	if err := d.expectHeader(r, KindLocal); err != nil {
		return nil, err
	}
	count, err := r.ReadCompressedU32()
	if err != nil {
		return nil, d.fail(r, "local count", err)
	}
	if int(count) > r.Remaining() {
		return nil, fmt.Errorf("%w: %d locals in %d bytes", ErrBadSignature, count, r.Remaining())
	}

	locals := make([]T, 0, count)
	for i := uint32(0); i < count; i++ {
		t, err := d.decodeType(r, true)
		if err != nil {
			return nil, err
		}
		locals = append(locals, t)
	}
	return locals, nil
}

// DecodeFieldSignature decodes a FIELD signature blob.
func (d *Decoder[T]) DecodeFieldSignature(blob []byte) (T, error) {
	r := stream.NewReader(blob)
	if err := d.expectHeader(r, KindField); err != nil {
		var zero T
		return zero, err
	}
	return d.decodeType(r, false)
}

// DecodeMethodSignature decodes a method definition, reference or
// standalone method signature.
func (d *Decoder[T]) DecodeMethodSignature(blob []byte) (MethodSignature[T], error) {
	r := stream.NewReader(blob)
	b, err := r.ReadU8()
	if err != nil {
		return MethodSignature[T]{}, d.fail(r, "header", err)
	}
	h := Header(b)
	if h.Kind() != KindMethod && h.Kind() != KindProperty {
		return MethodSignature[T]{}, fmt.Errorf("%w: header 0x%02x is not a method", ErrBadSignature, b)
	}
	return d.decodeMethod(r, h)
}

// DecodeMethodSpecSignature decodes the type arguments of a MethodSpec.
func (d *Decoder[T]) DecodeMethodSpecSignature(blob []byte) ([]T, error) {
	r := stream.NewReader(blob)
	if err := d.expectHeader(r, KindMethodSpec); err != nil {
		return nil, err
	}
	return d.decodeTypeList(r)
}

// DecodeType decodes a blob holding a single type, such as a TypeSpec.
func (d *Decoder[T]) DecodeType(blob []byte) (T, error) {
	return d.decodeType(stream.NewReader(blob), false)
}

func (d *Decoder[T]) expectHeader(r *stream.Reader, want Kind) error {
	b, err := r.ReadU8()
	if err != nil {
		return d.fail(r, "header", err)
	}
	if Header(b).Kind() != want {
		return fmt.Errorf("%w: header 0x%02x, want kind 0x%02x", ErrBadSignature, b, byte(want))
	}
	return nil
}

func (d *Decoder[T]) decodeMethod(r *stream.Reader, h Header) (MethodSignature[T], error) {
	sig := MethodSignature[T]{Header: h}
	if h.IsGeneric() {
		n, err := r.ReadCompressedU32()
		if err != nil {
			return sig, d.fail(r, "generic parameter count", err)
		}
		sig.GenericParameterCount = int(n)
	}
	count, err := r.ReadCompressedU32()
	if err != nil {
		return sig, d.fail(r, "parameter count", err)
	}
	if int(count) > r.Remaining() {
		return sig, fmt.Errorf("%w: %d parameters in %d bytes", ErrBadSignature, count, r.Remaining())
	}

	if sig.ReturnType, err = d.decodeType(r, false); err != nil {
		return sig, err
	}

	sig.RequiredParameterCount = int(count)
	sig.ParameterTypes = make([]T, 0, count)
	for i := 0; i < int(count); i++ {
		if b, err := r.PeekU8(); err == nil && b == elemSentinel {
			r.Skip(1)
			sig.RequiredParameterCount = i
		}
		t, err := d.decodeType(r, false)
		if err != nil {
			return sig, err
		}
		sig.ParameterTypes = append(sig.ParameterTypes, t)
	}
	return sig, nil
}

func (d *Decoder[T]) decodeType(r *stream.Reader, allowPinned bool) (T, error) {
	var zero T
	off := r.Offset()
	code, err := r.ReadU8()
	if err != nil {
		return zero, d.fail(r, "element type", err)
	}
	p := d.provider

	switch code {
	case byte(Void), byte(Boolean), byte(Char), byte(SByte), byte(Byte),
		byte(Int16), byte(UInt16), byte(Int32), byte(UInt32), byte(Int64),
		byte(UInt64), byte(Single), byte(Double), byte(String),
		byte(TypedReference), byte(IntPtr), byte(UIntPtr), byte(Object):
		return p.Primitive(PrimitiveTypeCode(code)), nil

	case elemPtr:
		elem, err := d.decodeType(r, false)
		if err != nil {
			return zero, err
		}
		return p.Pointer(elem), nil

	case elemByRef:
		elem, err := d.decodeType(r, false)
		if err != nil {
			return zero, err
		}
		return p.ByReference(elem), nil

	case elemPinned:
		if !allowPinned {
			return zero, fmt.Errorf("%w: pinned type outside a local signature at offset %d", ErrBadSignature, off)
		}
		elem, err := d.decodeType(r, false)
		if err != nil {
			return zero, err
		}
		return p.Pinned(elem), nil

	case elemSZArray:
		elem, err := d.decodeType(r, false)
		if err != nil {
			return zero, err
		}
		return p.SZArray(elem), nil

	case elemArray:
		elem, err := d.decodeType(r, false)
		if err != nil {
			return zero, err
		}
		shape, err := d.decodeArrayShape(r)
		if err != nil {
			return zero, err
		}
		return p.Array(elem, shape), nil

	case elemClass, elemValueType:
		return d.decodeTypeHandle(r, RawTypeKind(code))

	case elemGenericInst:
		kind, err := r.ReadU8()
		if err != nil {
			return zero, d.fail(r, "generic instantiation kind", err)
		}
		if kind != elemClass && kind != elemValueType {
			return zero, fmt.Errorf("%w: generic instantiation of element type 0x%02x", ErrBadSignature, kind)
		}
		generic, err := d.decodeTypeHandle(r, RawTypeKind(kind))
		if err != nil {
			return zero, err
		}
		args, err := d.decodeTypeList(r)
		if err != nil {
			return zero, err
		}
		return p.GenericInstantiation(generic, args), nil

	case elemVar, elemMVar:
		index, err := r.ReadCompressedU32()
		if err != nil {
			return zero, d.fail(r, "generic parameter index", err)
		}
		if code == elemVar {
			return p.GenericTypeParameter(d.ctx, int(index)), nil
		}
		return p.GenericMethodParameter(d.ctx, int(index)), nil

	case elemFnPtr:
		b, err := r.ReadU8()
		if err != nil {
			return zero, d.fail(r, "function pointer header", err)
		}
		sig, err := d.decodeMethod(r, Header(b))
		if err != nil {
			return zero, err
		}
		return p.FunctionPointer(sig), nil

	case elemCModReqd, elemCModOpt:
		modifier, err := d.decodeTypeHandle(r, RawTypeClass)
		if err != nil {
			return zero, err
		}
		unmodified, err := d.decodeType(r, allowPinned)
		if err != nil {
			return zero, err
		}
		return p.ModifiedType(modifier, unmodified, code == elemCModReqd), nil
	}

	return zero, fmt.Errorf("%w: unexpected element type 0x%02x at offset %d", ErrBadSignature, code, off)
}

func (d *Decoder[T]) decodeTypeList(r *stream.Reader) ([]T, error) {
	count, err := r.ReadCompressedU32()
	if err != nil {
		return nil, d.fail(r, "type argument count", err)
	}
	if count == 0 || int(count) > r.Remaining() {
		return nil, fmt.Errorf("%w: %d type arguments", ErrBadSignature, count)
	}
	args := make([]T, 0, count)
	for i := uint32(0); i < count; i++ {
		t, err := d.decodeType(r, false)
		if err != nil {
			return nil, err
		}
		args = append(args, t)
	}
	return args, nil
}

// decodeTypeHandle reads a TypeDefOrRefOrSpecEncoded value.
func (d *Decoder[T]) decodeTypeHandle(r *stream.Reader, kind RawTypeKind) (T, error) {
	var zero T
	v, err := r.ReadCompressedU32()
	if err != nil {
		return zero, d.fail(r, "type handle", err)
	}
	row := v >> 2
	switch v & 0x3 {
	case 0:
		return d.provider.TypeFromDefinition(metadata.NewHandle(metadata.KindTypeDef, row), kind), nil
	case 1:
		return d.provider.TypeFromReference(metadata.NewHandle(metadata.KindTypeRef, row), kind), nil
	case 2:
		return d.provider.TypeFromSpecification(metadata.NewHandle(metadata.KindTypeSpec, row), d.ctx)
	}
	return zero, fmt.Errorf("%w: type handle tag 3", ErrBadSignature)
}

func (d *Decoder[T]) decodeArrayShape(r *stream.Reader) (ArrayShape, error) {
	var shape ArrayShape
	rank, err := r.ReadCompressedU32()
	if err != nil {
		return shape, d.fail(r, "array rank", err)
	}
	shape.Rank = int(rank)

	numSizes, err := r.ReadCompressedU32()
	if err != nil {
		return shape, d.fail(r, "array sizes", err)
	}
	if int(numSizes) > r.Remaining() {
		return shape, fmt.Errorf("%w: %d array sizes", ErrBadSignature, numSizes)
	}
	for i := uint32(0); i < numSizes; i++ {
		v, err := r.ReadCompressedU32()
		if err != nil {
			return shape, d.fail(r, "array size", err)
		}
		shape.Sizes = append(shape.Sizes, int(v))
	}

	numBounds, err := r.ReadCompressedU32()
	if err != nil {
		return shape, d.fail(r, "array bounds", err)
	}
	if int(numBounds) > r.Remaining() {
		return shape, fmt.Errorf("%w: %d array bounds", ErrBadSignature, numBounds)
	}
	for i := uint32(0); i < numBounds; i++ {
		v, err := r.ReadCompressedI32()
		if err != nil {
			return shape, d.fail(r, "array lower bound", err)
		}
		shape.LowerBounds = append(shape.LowerBounds, int(v))
	}
	return shape, nil
}

func (d *Decoder[T]) fail(r *stream.Reader, what string, err error) error {
	return fmt.Errorf("%w: %s at offset %d: %v", ErrBadSignature, what, r.Offset(), err)
}
