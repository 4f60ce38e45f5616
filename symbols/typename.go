package symbols

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/skdltmxn/clrsym/metadata"
	"github.com/skdltmxn/clrsym/signature"
)

// typeNamer renders decoded signature types as reflection-style names:
// System.Int32, Ns.Outer+Inner, List`1[System.String], T[], T[,].
//
// Provider callbacks cannot fail, so the first lookup error is kept in
// err and checked once decoding finishes.
type typeNamer struct {
	md        *metadata.Reader
	err       error
	specDepth int
}

var _ signature.TypeProvider[string] = (*typeNamer)(nil)

func (n *typeNamer) fail(err error) string {
	if n.err == nil {
		n.err = err
	}
	return "?"
}

func (n *typeNamer) Primitive(c signature.PrimitiveTypeCode) string { return c.String() }

func (n *typeNamer) TypeFromDefinition(h metadata.Handle, _ signature.RawTypeKind) string {
	name, err := n.definitionName(h, 0)
	if err != nil {
		return n.fail(err)
	}
	return name
}

func (n *typeNamer) definitionName(h metadata.Handle, depth int) (string, error) {
	if depth > maxScopeDepth {
		return "", fmt.Errorf("%w: at %s", ErrResolutionDepth, h)
	}
	def, err := n.md.TypeDefinition(h)
	if err != nil {
		return "", err
	}
	name, err := n.md.String(def.Name)
	if err != nil {
		return "", err
	}

	enclosing, err := n.md.EnclosingType(h)
	if err != nil {
		return "", err
	}
	if !enclosing.IsNil() {
		outer, err := n.definitionName(enclosing, depth+1)
		if err != nil {
			return "", err
		}
		return outer + "+" + name, nil
	}

	ns, err := n.md.String(def.Namespace)
	if err != nil {
		return "", err
	}
	return join(ns, name), nil
}

func (n *typeNamer) TypeFromReference(h metadata.Handle, _ signature.RawTypeKind) string {
	name, err := n.referenceName(h, 0)
	if err != nil {
		return n.fail(err)
	}
	return name
}

func (n *typeNamer) referenceName(h metadata.Handle, depth int) (string, error) {
	if depth > maxScopeDepth {
		return "", fmt.Errorf("%w: at %s", ErrResolutionDepth, h)
	}
	ref, err := n.md.TypeReference(h)
	if err != nil {
		return "", err
	}
	name, err := n.md.String(ref.Name)
	if err != nil {
		return "", err
	}
	if ref.ResolutionScope.Kind() == metadata.KindTypeRef && !ref.ResolutionScope.IsNil() {
		outer, err := n.referenceName(ref.ResolutionScope, depth+1)
		if err != nil {
			return "", err
		}
		return outer + "+" + name, nil
	}
	ns, err := n.md.String(ref.Namespace)
	if err != nil {
		return "", err
	}
	return join(ns, name), nil
}

func (n *typeNamer) TypeFromSpecification(h metadata.Handle, ctx signature.GenericContext[string]) (string, error) {
	if n.specDepth > maxScopeDepth {
		return "", fmt.Errorf("%w: at %s", ErrResolutionDepth, h)
	}
	n.specDepth++
	defer func() { n.specDepth-- }()

	blobHandle, err := n.md.TypeSpecification(h)
	if err != nil {
		return "", err
	}
	blob, err := n.md.Blob(blobHandle)
	if err != nil {
		return "", err
	}
	return signature.NewDecoder[string](n, ctx).DecodeType(blob)
}

func (n *typeNamer) SZArray(elem string) string { return elem + "[]" }

func (n *typeNamer) Array(elem string, shape signature.ArrayShape) string {
	if shape.Rank <= 1 {
		return elem + "[*]"
	}
	return elem + "[" + strings.Repeat(",", shape.Rank-1) + "]"
}

func (n *typeNamer) ByReference(elem string) string { return elem + "&" }
func (n *typeNamer) Pointer(elem string) string     { return elem + "*" }
func (n *typeNamer) Pinned(elem string) string      { return elem }

func (n *typeNamer) GenericInstantiation(generic string, args []string) string {
	return generic + "[" + strings.Join(args, ",") + "]"
}

func (n *typeNamer) GenericTypeParameter(ctx signature.GenericContext[string], index int) string {
	if index < len(ctx.TypeParameters) {
		return ctx.TypeParameters[index]
	}
	return "!" + strconv.Itoa(index)
}

func (n *typeNamer) GenericMethodParameter(ctx signature.GenericContext[string], index int) string {
	if index < len(ctx.MethodParameters) {
		return ctx.MethodParameters[index]
	}
	return "!!" + strconv.Itoa(index)
}

func (n *typeNamer) FunctionPointer(sig signature.MethodSignature[string]) string {
	return "method " + sig.ReturnType + " *(" + strings.Join(sig.ParameterTypes, ",") + ")"
}

func (n *typeNamer) ModifiedType(_, unmodified string, _ bool) string { return unmodified }
