package extractor

import (
	"bytes"
	"errors"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funcmatch/internal/graph"
)

func nops(n int) []byte { return bytes.Repeat([]byte{0x90}, n) }

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestDetectCallSitesAMD64(t *testing.T) {
	code := concat(
		[]byte{0xf3, 0x0f, 0x1e, 0xfa},       // endbr64            @0x1000
		[]byte{0xe8, 0x07, 0x00, 0x00, 0x00}, // call 0x1010        @0x1004
		[]byte{0xeb, 0x07},                   // jmp 0x1012         @0x1009
		[]byte{0x75, 0xf3},                   // jne 0x1000         @0x100b
		[]byte{0xff, 0xd0},                   // call rax           @0x100d
		[]byte{0xc3},                         // ret                @0x100f
	)

	sites, err := DetectCallSites(code, 0x1000, ArchAMD64)
	require.NoError(t, err)
	assert.Equal(t, []CallSite{
		{Source: 0x1004, Target: 0x1010, Kind: CallKindCall},
		{Source: 0x1009, Target: 0x1012, Kind: CallKindJump},
	}, sites)
}

func TestDetectCallSitesARM64(t *testing.T) {
	code := concat(
		[]byte{0x02, 0x00, 0x00, 0x94}, // bl +8      @0x4000
		[]byte{0xff, 0xff, 0xff, 0x17}, // b -4       @0x4004
		[]byte{0x40, 0x00, 0x00, 0x54}, // b.eq +8    @0x4008
		[]byte{0xc0, 0x03, 0x5f, 0xd6}, // ret        @0x400c
	)

	sites, err := DetectCallSites(code, 0x4000, ArchARM64)
	require.NoError(t, err)
	assert.Equal(t, []CallSite{
		{Source: 0x4000, Target: 0x4008, Kind: CallKindCall},
		{Source: 0x4004, Target: 0x4000, Kind: CallKindJump},
	}, sites)
}

func TestDetectCallSitesUnsupportedArch(t *testing.T) {
	_, err := DetectCallSites([]byte{0x90}, 0, Arch("mips"))
	require.Error(t, err)
}

func TestBuild(t *testing.T) {
	text := concat(
		// a @0x1000: call b; jmp c; jne a; ret
		[]byte{0xe8, 0x0b, 0x00, 0x00, 0x00},
		[]byte{0xeb, 0x19},
		[]byte{0x75, 0xf7},
		[]byte{0xc3},
		nops(6),
		// b @0x1010: jmp b; call b; call rax; ret
		[]byte{0xeb, 0xfe},
		[]byte{0xe8, 0xf9, 0xff, 0xff, 0xff},
		[]byte{0xff, 0xd0},
		[]byte{0xc3},
		nops(6),
		// c @0x1020: call 0x2000 (outside any function); ret
		[]byte{0xe8, 0xdb, 0x0f, 0x00, 0x00},
		[]byte{0xc3},
		nops(2),
	)
	sections := map[string]*Section{
		".text": {Name: ".text", Addr: 0x1000, Data: text},
	}
	symbols := []Symbol{
		{Name: "c", Section: ".text", Address: 0x1020, Size: 8},
		{Name: "a", Section: ".text", Address: 0x1000, Size: 16},
		{Name: "a_alias", Section: ".text", Address: 0x1000, Size: 16},
		{Name: "b", Section: ".text", Address: 0x1010, Size: 16},
		{Name: "puts@plt", Section: ".plt", Address: 0x2000, Size: 16},
		{Name: "empty", Section: ".text", Address: 0x1028, Size: 0},
	}

	e := NewExtractor([]string{".plt"})
	bin, err := e.Build(7, ArchAMD64, symbols, sections)
	require.NoError(t, err)

	a, b, c := FunctionID(7, 0), FunctionID(7, 1), FunctionID(7, 2)
	require.Len(t, bin.Symbols, 3)
	assert.Equal(t, "a", bin.Symbols[0].Name)
	assert.Equal(t, a, bin.Symbols[0].ID)
	assert.Equal(t, "b", bin.Symbols[1].Name)
	assert.Equal(t, "c", bin.Symbols[2].Name)

	cg := bin.CallGraph
	assert.Equal(t, int64(7), cg.BinaryID)
	assert.Equal(t, 3, cg.Len())
	assert.ElementsMatch(t, []graph.Edge{{From: a, To: b}, {From: a, To: c}, {From: b, To: b}}, cg.Edges())

	callers, err := cg.Callers(c)
	require.NoError(t, err)
	assert.Equal(t, []graph.FunctionID{a}, callers)
}

func TestBuildNoFunctions(t *testing.T) {
	e := NewExtractor([]string{".plt"})
	_, err := e.Build(1, ArchAMD64, []Symbol{{Name: "x", Section: ".plt", Address: 1, Size: 4}}, nil)
	require.ErrorIs(t, err, ErrNoFunctions)
}

func TestFunctionID(t *testing.T) {
	assert.Equal(t, graph.FunctionID(1<<32|1), FunctionID(1, 0))
	assert.Equal(t, graph.FunctionID(3<<32|10), FunctionID(3, 9))
}

func TestIsELF(t *testing.T) {
	assert.True(t, IsELF(bytes.NewReader([]byte("\x7fELF\x02\x01"))))
	assert.False(t, IsELF(bytes.NewReader([]byte("MZ\x90\x00"))))
	assert.False(t, IsELF(bytes.NewReader([]byte("\x7f"))))
}

func TestExtractFromFileRejectsNonELF(t *testing.T) {
	path := t.TempDir() + "/not-elf"
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	_, err := NewExtractor(nil).ExtractFromFile(path, 1)
	require.Error(t, err)
}

func TestExtractFromFileSelf(t *testing.T) {
	if runtime.GOOS != "linux" || (runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64") {
		t.Skip("needs a linux amd64/arm64 ELF test binary")
	}
	exe, err := os.Executable()
	require.NoError(t, err)

	bin, err := NewExtractor([]string{".plt"}).ExtractFromFile(exe, 2)
	if errors.Is(err, ErrNoFunctions) {
		t.Skip("test binary is stripped")
	}
	require.NoError(t, err)

	assert.Equal(t, Arch(runtime.GOARCH), bin.Arch)
	assert.Positive(t, bin.CallGraph.Len())
	assert.Positive(t, bin.CallGraph.EdgeCount())
	for _, s := range bin.Symbols {
		assert.Equal(t, int64(2), int64(s.ID)>>32)
	}
}
