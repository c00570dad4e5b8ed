package extractor

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"funcmatch/internal/graph"
)

// ErrNoFunctions is returned for binaries without usable function symbols
// (stripped, or every function lives in a skipped section).
var ErrNoFunctions = errors.New("no function symbols")

// Symbol is a function symbol kept for the call graph.
type Symbol struct {
	ID      graph.FunctionID
	Name    string
	Section string
	Address uint64
	Size    uint64
}

// Binary is the extraction result for one ELF file.
type Binary struct {
	ID        int64
	Name      string
	Path      string
	Arch      Arch
	Symbols   []Symbol
	CallGraph *graph.CallGraph
}

// Section is an executable section's bytes at its load address.
type Section struct {
	Name string
	Addr uint64
	Data []byte
}

// Extractor builds call graphs from ELF binaries.
type Extractor struct {
	skip map[string]bool
}

// NewExtractor creates an extractor ignoring functions located in the
// named sections (PLT stubs, extern pseudo sections).
func NewExtractor(skipSections []string) *Extractor {
	skip := make(map[string]bool, len(skipSections))
	for _, s := range skipSections {
		skip[s] = true
	}
	return &Extractor{skip: skip}
}

// FunctionID derives the global id of the ordinal-th function of a binary.
func FunctionID(binaryID int64, ordinal int) graph.FunctionID {
	return graph.FunctionID(binaryID<<32 | int64(ordinal+1))
}

// ExtractFromFile opens path and extracts its call graph.
func (e *Extractor) ExtractFromFile(path string, binaryID int64) (*Binary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bin, err := e.ExtractFromELF(f, binaryID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	bin.Path = path
	bin.Name = filepath.Base(path)
	return bin, nil
}

// ExtractFromELF parses an ELF image and extracts its call graph.
func (e *Extractor) ExtractFromELF(r io.ReaderAt, binaryID int64) (*Binary, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("parse elf: %w", err)
	}
	defer f.Close()

	var arch Arch
	switch f.Machine {
	case elf.EM_X86_64:
		arch = ArchAMD64
	case elf.EM_AARCH64:
		arch = ArchARM64
	default:
		return nil, fmt.Errorf("unsupported machine: %s", f.Machine)
	}

	syms, err := f.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil, ErrNoFunctions
		}
		return nil, fmt.Errorf("read symbols: %w", err)
	}

	var candidates []Symbol
	sections := make(map[string]*Section)
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 {
			continue
		}
		if s.Section == elf.SHN_UNDEF || int(s.Section) >= len(f.Sections) {
			continue
		}
		sec := f.Sections[s.Section]
		if sec.Flags&elf.SHF_EXECINSTR == 0 || sec.Type == elf.SHT_NOBITS || e.skip[sec.Name] {
			continue
		}
		if _, ok := sections[sec.Name]; !ok {
			data, err := sec.Data()
			if err != nil {
				return nil, fmt.Errorf("read section %s: %w", sec.Name, err)
			}
			sections[sec.Name] = &Section{Name: sec.Name, Addr: sec.Addr, Data: data}
		}
		candidates = append(candidates, Symbol{
			Name:    s.Name,
			Section: sec.Name,
			Address: s.Value,
			Size:    s.Size,
		})
	}

	return e.Build(binaryID, arch, candidates, sections)
}

// Build assigns ids to symbols and links them by decoding their bodies.
// Symbols sharing an entry address collapse onto the first one in table
// order. IDs follow ascending address order.
func (e *Extractor) Build(binaryID int64, arch Arch, symbols []Symbol, sections map[string]*Section) (*Binary, error) {
	var kept []Symbol
	seen := make(map[uint64]bool, len(symbols))
	for _, s := range symbols {
		if e.skip[s.Section] || s.Size == 0 || seen[s.Address] {
			continue
		}
		seen[s.Address] = true
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return nil, ErrNoFunctions
	}
	slices.SortStableFunc(kept, func(a, b Symbol) int {
		if a.Address != b.Address {
			if a.Address < b.Address {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})

	cg := graph.NewCallGraph(binaryID)
	byEntry := make(map[uint64]graph.FunctionID, len(kept))
	for i := range kept {
		kept[i].ID = FunctionID(binaryID, i)
		byEntry[kept[i].Address] = kept[i].ID
		cg.AddFunction(graph.Function{
			ID:      kept[i].ID,
			Name:    kept[i].Name,
			Size:    kept[i].Size,
			Address: kept[i].Address,
		})
	}

	for _, s := range kept {
		body := functionBody(sections[s.Section], s)
		if len(body) == 0 {
			continue
		}
		sites, err := DetectCallSites(body, s.Address, arch)
		if err != nil {
			return nil, err
		}
		for _, site := range sites {
			callee, ok := byEntry[site.Target]
			if !ok {
				continue
			}
			// A jump back to the own entry is a loop, not a call.
			if site.Kind == CallKindJump && callee == s.ID {
				continue
			}
			cg.AddCall(s.ID, callee)
		}
	}

	return &Binary{ID: binaryID, Arch: arch, Symbols: kept, CallGraph: cg}, nil
}

func functionBody(sec *Section, s Symbol) []byte {
	if sec == nil || s.Address < sec.Addr {
		return nil
	}
	start := s.Address - sec.Addr
	if start >= uint64(len(sec.Data)) {
		return nil
	}
	end := min(start+s.Size, uint64(len(sec.Data)))
	return sec.Data[start:end]
}

// IsELF reports whether r starts with the ELF magic.
func IsELF(r io.Reader) bool {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return false
	}
	return bytes.Equal(magic[:], []byte(elf.ELFMAG))
}
