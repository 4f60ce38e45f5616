package symbols

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/clrsym/metadata"
)

func newLocator(t *testing.T) *Locator {
	t.Helper()
	c := NewCache()
	t.Cleanup(func() { c.Close() })
	return NewLocator(c)
}

func TestLocatorMethodBody(t *testing.T) {
	path := buildApp(t, nil)
	l := newLocator(t)

	t.Run("fat body", func(t *testing.T) {
		body, err := l.MethodBody(path, mainMethod.Token())
		require.NoError(t, err)
		require.NotNil(t, body)
		assert.Equal(t, []byte{0x00, 0x2a}, body.Code)
		assert.True(t, body.InitLocals)
		assert.Equal(t, metadata.NewHandle(metadata.KindStandAloneSig, 1), body.LocalSignature)
	})

	t.Run("tiny body", func(t *testing.T) {
		body, err := l.MethodBody(path, tinyMethod.Token())
		require.NoError(t, err)
		require.NotNil(t, body)
		assert.Equal(t, []byte{0x2a}, body.Code)
		assert.True(t, body.LocalSignature.IsNil())
	})

	t.Run("no body", func(t *testing.T) {
		body, err := l.MethodBody(path, abstractMethod.Token())
		require.NoError(t, err)
		assert.Nil(t, body)
	})

	for name, token := range map[string]uint32{
		"nil token":    0x06000000,
		"not a method": programType.Token(),
		"member ref":   0x0a000001,
	} {
		t.Run(name, func(t *testing.T) {
			body, err := l.MethodBody(path, token)
			require.NoError(t, err)
			assert.Nil(t, body)
		})
	}

	t.Run("missing image", func(t *testing.T) {
		body, err := l.MethodBody(filepath.Join(t.TempDir(), "gone.dll"), mainMethod.Token())
		require.NoError(t, err)
		assert.Nil(t, body)
	})

	t.Run("row out of range", func(t *testing.T) {
		_, err := l.MethodBody(path, 0x06000009)
		require.ErrorIs(t, err, metadata.ErrInvalidHandle)
	})
}

func TestLocatorLocalVariableTypes(t *testing.T) {
	path := buildApp(t, nil)
	l := newLocator(t)

	tests := []struct {
		name   string
		method Method
		want   []string
	}{
		{
			name:   "primitive and defined types",
			method: testMethod{path, mainMethod.Token()},
			want:   []string{"System.Int32", "System.String", "App.Program", "App.Program+Helper[]"},
		},
		{
			name:   "generic parameters by declared name",
			method: testMethod{path, getMethod.Token()},
			want:   []string{"T", "M", "System.Collections.Generic.List`1[System.String]"},
		},
		{
			name:   "generic arguments from host",
			method: genericMethod{testMethod{path, getMethod.Token()}, []string{"System.Byte"}, []string{"System.Guid"}},
			want:   []string{"System.Byte", "System.Guid", "System.Collections.Generic.List`1[System.String]"},
		},
		{
			name:   "tiny body has no locals",
			method: testMethod{path, tinyMethod.Token()},
			want:   []string{},
		},
		{
			name:   "no body",
			method: testMethod{path, abstractMethod.Token()},
			want:   []string{},
		},
		{
			name:   "not a method",
			method: testMethod{path, programType.Token()},
			want:   []string{},
		},
		{
			name:   "missing image",
			method: testMethod{filepath.Join(t.TempDir(), "gone.dll"), mainMethod.Token()},
			want:   []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.LocalVariableTypes(tt.method)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocatorLocalVariableTypesFromHost(t *testing.T) {
	path := buildApp(t, nil)
	l := newLocator(t)

	decoded, err := l.LocalVariableTypes(testMethod{path, mainMethod.Token()})
	require.NoError(t, err)

	host := &resolvedMethod{
		testMethod: testMethod{path, mainMethod.Token()},
		types:      append([]string(nil), decoded...),
		ok:         true,
	}
	got, err := l.LocalVariableTypes(host)
	require.NoError(t, err)
	assert.Equal(t, decoded, got)

	// The result is a copy.
	got[0] = "changed"
	assert.Equal(t, "System.Int32", host.types[0])

	// A host that cannot answer falls back to decoding.
	host.ok = false
	host.types = []string{"wrong"}
	got, err = l.LocalVariableTypes(host)
	require.NoError(t, err)
	assert.Equal(t, decoded, got)
}

func TestLocatorConcurrentImages(t *testing.T) {
	paths := []string{buildApp(t, nil), buildApp(t, nil)}
	l := newLocator(t)

	var wg sync.WaitGroup
	errs := make(chan error, len(paths))
	for _, path := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				body, err := l.MethodBody(path, mainMethod.Token())
				if err != nil {
					errs <- err
					return
				}
				if body == nil {
					errs <- assert.AnError
					return
				}
				if _, err := l.LocalVariableTypes(testMethod{path, getMethod.Token()}); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

type genericMethod struct {
	testMethod
	typeArgs, methodArgs []string
}

func (m genericMethod) GenericArguments() (typeArgs, methodArgs []string) {
	return m.typeArgs, m.methodArgs
}

type resolvedMethod struct {
	testMethod
	types []string
	ok    bool
}

func (m *resolvedMethod) LocalVariableTypes() ([]string, bool) { return m.types, m.ok }
