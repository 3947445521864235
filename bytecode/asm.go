package bytecode

// Instruction constructors, used by tests and tooling to assemble programs
// without hand-writing opcode bytes.

func Mov64Imm(dst uint8, imm int32) Instruction {
	return Instruction{Opcode: CLS_ALU64 | ALU_MOV | SRC_K, Dst: dst, Imm: imm}
}

func Mov64Reg(dst, src uint8) Instruction {
	return Instruction{Opcode: CLS_ALU64 | ALU_MOV | SRC_X, Dst: dst, Src: src}
}

func Alu64Imm(op byte, dst uint8, imm int32) Instruction {
	return Instruction{Opcode: CLS_ALU64 | op | SRC_K, Dst: dst, Imm: imm}
}

func Alu64Reg(op byte, dst, src uint8) Instruction {
	return Instruction{Opcode: CLS_ALU64 | op | SRC_X, Dst: dst, Src: src}
}

func Alu32Imm(op byte, dst uint8, imm int32) Instruction {
	return Instruction{Opcode: CLS_ALU32 | op | SRC_K, Dst: dst, Imm: imm}
}

func Alu32Reg(op byte, dst, src uint8) Instruction {
	return Instruction{Opcode: CLS_ALU32 | op | SRC_X, Dst: dst, Src: src}
}

// LoadMem emits dst = *(size*)(src + off).
func LoadMem(size byte, dst, src uint8, off int16) Instruction {
	return Instruction{Opcode: CLS_LDX | MODE_MEM | size, Dst: dst, Src: src, Off: off}
}

// StoreMem emits *(size*)(dst + off) = src.
func StoreMem(size byte, dst, src uint8, off int16) Instruction {
	return Instruction{Opcode: CLS_STX | MODE_MEM | size, Dst: dst, Src: src, Off: off}
}

// StoreImm emits *(size*)(dst + off) = imm.
func StoreImm(size byte, dst uint8, off int16, imm int32) Instruction {
	return Instruction{Opcode: CLS_ST | MODE_MEM | size, Dst: dst, Off: off, Imm: imm}
}

// LoadImm64 emits the two-slot dst = imm64 pseudo-instruction.
func LoadImm64(dst uint8, imm uint64) []Instruction {
	return []Instruction{
		{Opcode: LDDW, Dst: dst, Imm: int32(uint32(imm))},
		{Opcode: WIDE_CONT, Imm: int32(uint32(imm >> 32))},
	}
}

// LoadMapID emits the two-slot pseudo load that turns dst into a handle for
// the map with the given id.
func LoadMapID(dst uint8, mapID uint32) []Instruction {
	return []Instruction{
		{Opcode: LDDW, Dst: dst, Src: PSEUDO_MAP_ID, Imm: int32(mapID)},
		{Opcode: WIDE_CONT},
	}
}

func Jump(off int16) Instruction {
	return Instruction{Opcode: JA, Off: off}
}

func JumpImm(op byte, dst uint8, imm int32, off int16) Instruction {
	return Instruction{Opcode: CLS_JMP | op | SRC_K, Dst: dst, Imm: imm, Off: off}
}

func JumpReg(op byte, dst, src uint8, off int16) Instruction {
	return Instruction{Opcode: CLS_JMP | op | SRC_X, Dst: dst, Src: src, Off: off}
}

func Jump32Imm(op byte, dst uint8, imm int32, off int16) Instruction {
	return Instruction{Opcode: CLS_JMP32 | op | SRC_K, Dst: dst, Imm: imm, Off: off}
}

func Call(helperID int32) Instruction {
	return Instruction{Opcode: CALL, Imm: helperID}
}

func Exit() Instruction {
	return Instruction{Opcode: EXIT}
}
