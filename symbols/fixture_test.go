package symbols

import (
	"testing"

	"github.com/skdltmxn/clrsym/internal/testimage"
	"github.com/skdltmxn/clrsym/metadata"
)

// Rows of the app fixture.
var (
	programType = metadata.NewHandle(metadata.KindTypeDef, 2)
	genericType = metadata.NewHandle(metadata.KindTypeDef, 3)
	helperType  = metadata.NewHandle(metadata.KindTypeDef, 4)

	mainMethod     = metadata.NewHandle(metadata.KindMethodDef, 1)
	abstractMethod = metadata.NewHandle(metadata.KindMethodDef, 2)
	tinyMethod     = metadata.NewHandle(metadata.KindMethodDef, 3)
	getMethod      = metadata.NewHandle(metadata.KindMethodDef, 4)

	objectRef = metadata.NewHandle(metadata.KindTypeRef, 1)
)

var (
	appGUID  = [16]byte{0x10, 0x32, 0x54, 0x76, 0x98, 0xba, 0xdc, 0xfe}
	appStamp = uint32(0x5eed5eed)
	appPDBID = [20]byte{0x10, 0x32, 0x54, 0x76, 0x98, 0xba, 0xdc, 0xfe, 16: 0xed, 0x5e, 0xed, 0x5e}
)

// Locals of Main: int, string, Program, Program.Helper[].
var mainLocals = []byte{0x07, 0x04, 0x08, 0x0e, 0x12, 0x08, 0x1d, 0x12, 0x10}

// Locals of Generic`1.Get: T, M, List`1<string>.
var getLocals = []byte{0x07, 0x03, 0x13, 0x00, 0x1e, 0x00, 0x15, 0x12, 0x09, 0x01, 0x0e}

func fatBody(localSig uint32) []byte {
	return []byte{
		0x13, 0x30, // fat, InitLocals, 3 dwords
		0x01, 0x00,
		0x02, 0x00, 0x00, 0x00,
		byte(localSig), byte(localSig >> 8), byte(localSig >> 16), byte(localSig >> 24),
		0x00, 0x2a,
	}
}

var voidSig = []byte{0x00, 0x00, 0x01}

// buildApp writes App.dll into a temp directory. configure may add debug
// entries before the image is serialized.
func buildApp(t *testing.T, configure func(p *testimage.PE)) string {
	t.Helper()
	p := testimage.NewPE()
	mainRVA := p.AddMethodBody(fatBody(0x11000001))
	tinyRVA := p.AddMethodBody([]byte{0x06, 0x2a})
	getRVA := p.AddMethodBody(fatBody(0x11000002))

	b := testimage.NewMetadata()
	b.Module("App.dll", appGUID)
	runtime := b.AssemblyRef("System.Runtime", [4]uint16{8, 0, 0, 0})
	b.TypeRef(runtime, "System", "Object")
	b.TypeRef(runtime, "System.Collections.Generic", "List`1")

	b.TypeDef(0, "", "<Module>", metadata.Handle(0))
	b.TypeDef(0x00100001, "App", "Program", objectRef)
	b.MethodDef(0x0016, "Main", mainRVA, voidSig)
	b.MethodDef(0x05c6, "Abstract", 0, voidSig)
	b.MethodDef(0x0086, "Tiny", tinyRVA, voidSig)
	generic := b.TypeDef(0x00100001, "App", "Generic`1", objectRef)
	get := b.MethodDef(0x0086, "Get", getRVA, []byte{0x30, 0x01, 0x00, 0x01})
	helper := b.TypeDef(0x00100002, "", "Helper", objectRef)

	b.NestedClass(helper, programType)
	b.GenericParam(generic, 0, "T")
	b.GenericParam(get, 0, "M")
	b.StandAloneSig(mainLocals)
	b.StandAloneSig(getLocals)

	p.SetMetadata(b.Bytes())
	if configure != nil {
		configure(p)
	}
	return testimage.WriteFile(t, t.TempDir(), "App.dll", p.Bytes())
}

// Points of Main in the app PDB.
var mainPoints = []testimage.Point{
	{Offset: 0, StartLine: 12, StartColumn: 9, EndLine: 12, EndColumn: 10},
	{Offset: 1, StartLine: 13, StartColumn: 13, EndLine: 13, EndColumn: 40},
	{Offset: 3, Hidden: true},
	{Offset: 5, StartLine: 14, StartColumn: 9, EndLine: 15, EndColumn: 2, Document: 2},
}

// appPDB builds a portable PDB for App.dll with the given id. Main has
// points in two documents, Tiny has one point in an unnamed document.
func appPDB(id [20]byte, source string) []byte {
	b := testimage.NewMetadata()
	b.PortablePDB(id, map[metadata.Kind]uint32{
		metadata.KindTypeDef:   4,
		metadata.KindMethodDef: 4,
	})
	program := b.Document(source)
	b.Document("/src/App/Program.Partial.cs")
	unnamed := b.Document("")

	b.MethodDebugInformation(program, testimage.SequencePoints(1, 0, mainPoints))
	b.MethodDebugInformation(metadata.Handle(0), nil)
	b.MethodDebugInformation(unnamed, testimage.SequencePoints(0, 0, []testimage.Point{
		{Offset: 0, StartLine: 30, StartColumn: 5, EndLine: 30, EndColumn: 6},
	}))
	b.MethodDebugInformation(metadata.Handle(0), nil)
	return b.Bytes()
}

func withCodeView(path string, portable bool) func(p *testimage.PE) {
	return func(p *testimage.PE) {
		p.AddCodeView(appGUID, 1, appStamp, path, portable)
	}
}

// testMethod is a Method without host capabilities.
type testMethod struct {
	path  string
	token uint32
}

func (m testMethod) ImagePath() string     { return m.path }
func (m testMethod) MetadataToken() uint32 { return m.token }
