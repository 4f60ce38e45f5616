package symbols

import (
	"fmt"

	"github.com/skdltmxn/clrsym/metadata"
	"github.com/skdltmxn/clrsym/peimage"
	"github.com/skdltmxn/clrsym/signature"
)

// Method identifies a method by the image that defines it and its
// MethodDef token.
type Method interface {
	ImagePath() string
	MetadataToken() uint32
}

// LocalTypesProvider is implemented by methods whose host has already
// resolved local variable types. ok is false when the host cannot
// answer for this method.
type LocalTypesProvider interface {
	LocalVariableTypes() (types []string, ok bool)
}

// GenericArgumentsProvider is implemented by methods that know the type
// arguments of their declaring type and of the method itself.
type GenericArgumentsProvider interface {
	GenericArguments() (typeArgs, methodArgs []string)
}

// Locator finds method bodies through a Cache.
type Locator struct {
	cache *Cache
}

// NewLocator returns a locator reading images through cache.
func NewLocator(cache *Cache) *Locator {
	return &Locator{cache: cache}
}

// MethodBody returns the body of the method with the given MethodDef
// token. It returns nil without error when the token is not a MethodDef,
// the image is unavailable, or the method has no body.
func (l *Locator) MethodBody(imagePath string, token uint32) (*peimage.MethodBody, error) {
	h := metadata.HandleFromToken(token)
	if h.IsNil() || h.Kind() != metadata.KindMethodDef {
		return nil, nil
	}
	var body *peimage.MethodBody
	err := l.cache.With(imagePath, func(r *Reader) error {
		if r == nil {
			return nil
		}
		var err error
		body, _, err = methodBody(r, h)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func methodBody(r *Reader, h metadata.Handle) (*peimage.MethodBody, metadata.MethodDefinition, error) {
	def, err := r.md.MethodDefinition(h)
	if err != nil {
		return nil, def, err
	}
	if def.RVA == 0 {
		return nil, def, nil
	}
	body, err := r.image.MethodBody(def.RVA)
	if err != nil {
		return nil, def, fmt.Errorf("symbols: body of %s: %w", h, err)
	}
	return body, def, nil
}

// LocalVariableTypes returns the types of m's local variables in
// declaration order. Types already resolved by the host are copied as
// is; otherwise the local signature is decoded. A method without a body
// or without locals has none.
func (l *Locator) LocalVariableTypes(m Method) ([]string, error) {
	if p, ok := m.(LocalTypesProvider); ok {
		if types, ok := p.LocalVariableTypes(); ok {
			return append([]string{}, types...), nil
		}
	}

	h := metadata.HandleFromToken(m.MetadataToken())
	if h.IsNil() || h.Kind() != metadata.KindMethodDef {
		return []string{}, nil
	}
	types := []string{}
	err := l.cache.With(m.ImagePath(), func(r *Reader) error {
		if r == nil {
			return nil
		}
		var err error
		types, err = localTypes(m, r, h)
		return err
	})
	if err != nil {
		return nil, err
	}
	return types, nil
}

func localTypes(m Method, r *Reader, h metadata.Handle) ([]string, error) {
	body, def, err := methodBody(r, h)
	if err != nil {
		return nil, err
	}
	if body == nil || body.LocalSignature.IsNil() {
		return []string{}, nil
	}

	sigHandle, err := r.md.StandaloneSignature(body.LocalSignature)
	if err != nil {
		return nil, err
	}
	blob, err := r.md.Blob(sigHandle)
	if err != nil {
		return nil, err
	}

	ctx, err := genericContext(m, r.md, h, def)
	if err != nil {
		return nil, err
	}
	namer := &typeNamer{md: r.md}
	types, err := signature.NewDecoder[string](namer, ctx).DecodeLocalSignature(blob)
	if err != nil {
		return nil, fmt.Errorf("symbols: locals of %s: %w", h, err)
	}
	if namer.err != nil {
		return nil, fmt.Errorf("symbols: locals of %s: %w", h, namer.err)
	}
	return types, nil
}

// genericContext returns the names generic parameters decode to: the
// host's type arguments when it has them, otherwise the declared
// parameter names of the method and its type.
func genericContext(m Method, md *metadata.Reader, h metadata.Handle, def metadata.MethodDefinition) (signature.GenericContext[string], error) {
	if p, ok := m.(GenericArgumentsProvider); ok {
		typeArgs, methodArgs := p.GenericArguments()
		return signature.GenericContext[string]{TypeParameters: typeArgs, MethodParameters: methodArgs}, nil
	}

	var ctx signature.GenericContext[string]
	var err error
	if !def.DeclaringType.IsNil() {
		if ctx.TypeParameters, err = parameterNames(md, def.DeclaringType); err != nil {
			return ctx, err
		}
	}
	if ctx.MethodParameters, err = parameterNames(md, h); err != nil {
		return ctx, err
	}
	return ctx, nil
}

func parameterNames(md *metadata.Reader, owner metadata.Handle) ([]string, error) {
	params, err := md.GenericParameters(owner)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(params))
	for i, p := range params {
		if names[i], err = md.String(p.Name); err != nil {
			return nil, err
		}
	}
	return names, nil
}
