package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/sbvm/vmerrors"
)

// Decode parses raw little-endian bytecode into instructions. It fails if the
// length is not a multiple of the instruction width, if any opcode is outside
// the known set, if a register index exceeds 10, or if a two-slot immediate
// load is malformed. Anything Decode accepts round-trips byte-for-byte
// through Encode.
func Decode(raw []byte) ([]Instruction, error) {
	if len(raw)%InsnSize != 0 {
		return nil, vmerrors.ErrDTruncatedProgram
	}
	n := len(raw) / InsnSize
	if n == 0 {
		return nil, vmerrors.ErrDEmptyProgram
	}
	if n > MaxInsns {
		return nil, vmerrors.ErrDProgramTooLarge
	}

	insns := make([]Instruction, n)
	for i := 0; i < n; i++ {
		rec := raw[i*InsnSize : (i+1)*InsnSize]
		insns[i] = Instruction{
			Opcode: rec[0],
			Dst:    rec[1] & 0x0f,
			Src:    rec[1] >> 4,
			Off:    int16(binary.LittleEndian.Uint16(rec[2:4])),
			Imm:    int32(binary.LittleEndian.Uint32(rec[4:8])),
		}
	}

	for i := 0; i < n; i++ {
		insn := insns[i]
		if insn.Opcode == WIDE_CONT {
			// Only valid as the second slot of an LDDW; the pair scan below
			// skips over valid continuations, so hitting one here means it
			// had no LDDW in front of it.
			return nil, fmt.Errorf("insn %d: %w", i, vmerrors.ErrDBadWideImm)
		}
		if !KnownOpcode(insn.Opcode) {
			return nil, fmt.Errorf("insn %d: opcode 0x%02x: %w", i, insn.Opcode, vmerrors.ErrDUnknownOpcode)
		}
		if insn.Dst > MaxReg || insn.Src > MaxReg {
			return nil, fmt.Errorf("insn %d: %w", i, vmerrors.ErrDBadRegister)
		}
		if insn.IsWide() {
			if i+1 >= n {
				return nil, fmt.Errorf("insn %d: %w", i, vmerrors.ErrDBadWideImm)
			}
			cont := insns[i+1]
			if cont.Opcode != WIDE_CONT || cont.Dst != 0 || cont.Src != 0 || cont.Off != 0 {
				return nil, fmt.Errorf("insn %d: %w", i+1, vmerrors.ErrDBadWideImm)
			}
			if insn.Src != PSEUDO_NONE && insn.Src != PSEUDO_MAP_ID {
				return nil, fmt.Errorf("insn %d: pseudo src %d: %w", i, insn.Src, vmerrors.ErrDBadWideImm)
			}
			i++ // skip the continuation slot
		}
	}
	return insns, nil
}

// Encode serializes instructions back to raw bytecode. It is the exact
// inverse of Decode for any accepted input.
func Encode(insns []Instruction) []byte {
	raw := make([]byte, len(insns)*InsnSize)
	for i, insn := range insns {
		rec := raw[i*InsnSize : (i+1)*InsnSize]
		rec[0] = insn.Opcode
		rec[1] = insn.Dst&0x0f | insn.Src<<4
		binary.LittleEndian.PutUint16(rec[2:4], uint16(insn.Off))
		binary.LittleEndian.PutUint32(rec[4:8], uint32(insn.Imm))
	}
	return raw
}
