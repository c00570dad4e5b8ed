package extractor

import (
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// Arch is a supported instruction set.
type Arch string

const (
	ArchAMD64 Arch = "amd64"
	ArchARM64 Arch = "arm64"
)

// CallKind distinguishes calls from unconditional jumps (tail calls).
type CallKind string

const (
	CallKindCall CallKind = "call"
	CallKindJump CallKind = "jump"
)

// CallSite is a control transfer with a statically known target.
type CallSite struct {
	Source uint64
	Target uint64
	Kind   CallKind
}

// DetectCallSites decodes code located at baseAddr and returns its direct
// calls and unconditional jumps. Register-indirect transfers and conditional
// branches are skipped.
func DetectCallSites(code []byte, baseAddr uint64, arch Arch) ([]CallSite, error) {
	switch arch {
	case ArchAMD64:
		return callSitesAMD64(code, baseAddr), nil
	case ArchARM64:
		return callSitesARM64(code, baseAddr), nil
	default:
		return nil, fmt.Errorf("unsupported architecture: %s", arch)
	}
}

func callSitesAMD64(code []byte, baseAddr uint64) []CallSite {
	var out []CallSite

	offset := 0
	addr := baseAddr
	for offset < len(code) {
		// x86asm does not know ENDBR64/ENDBR32 (f3 0f 1e fa/fb).
		if offset+4 <= len(code) &&
			code[offset] == 0xf3 && code[offset+1] == 0x0f &&
			code[offset+2] == 0x1e && (code[offset+3] == 0xfa || code[offset+3] == 0xfb) {
			offset += 4
			addr += 4
			continue
		}

		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			offset++
			addr++
			continue
		}

		var kind CallKind
		switch inst.Op {
		case x86asm.CALL:
			kind = CallKindCall
		case x86asm.JMP:
			// Conditional jumps have their own ops.
			kind = CallKindJump
		}
		if kind != "" {
			if rel, ok := inst.Args[0].(x86asm.Rel); ok {
				out = append(out, CallSite{
					Source: addr,
					Target: addr + uint64(inst.Len) + uint64(int64(rel)),
					Kind:   kind,
				})
			}
		}

		offset += inst.Len
		addr += uint64(inst.Len)
	}
	return out
}

func callSitesARM64(code []byte, baseAddr uint64) []CallSite {
	var out []CallSite

	const insnLen = 4
	for offset := 0; offset+insnLen <= len(code); offset += insnLen {
		inst, err := arm64asm.Decode(code[offset : offset+insnLen])
		if err != nil {
			continue
		}
		addr := baseAddr + uint64(offset)

		var kind CallKind
		switch inst.Op {
		case arm64asm.BL:
			kind = CallKindCall
		case arm64asm.B:
			kind = CallKindJump
			// B.cond carries a condition argument.
			for _, arg := range inst.Args {
				if _, ok := arg.(arm64asm.Cond); ok {
					kind = ""
					break
				}
			}
		}
		if kind == "" {
			continue
		}
		if pcrel, ok := inst.Args[0].(arm64asm.PCRel); ok {
			out = append(out, CallSite{
				Source: addr,
				Target: addr + uint64(int64(pcrel)),
				Kind:   kind,
			})
		}
	}
	return out
}
