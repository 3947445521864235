package bytecode

import (
	"fmt"
	"strings"
)

// DisasmInsn renders one instruction the way the verifier log prints it.
// idx is the instruction's address, used to resolve jump targets.
func DisasmInsn(idx int, insn Instruction, next Instruction) string {
	dst := RegName(insn.Dst)
	src := RegName(insn.Src)
	cls := Class(insn.Opcode)

	switch {
	case insn.IsWide():
		if insn.Src == PSEUDO_MAP_ID {
			return fmt.Sprintf("%s = map[%d]", dst, uint32(insn.Imm))
		}
		return fmt.Sprintf("%s = %#x", dst, insn.WideImm(next))
	case insn.IsWideCont():
		return "..." // rendered as part of the preceding LDDW
	case insn.IsExit():
		return "exit"
	case insn.IsCall():
		return fmt.Sprintf("call %d", insn.Imm)
	case insn.Opcode == JA:
		return fmt.Sprintf("goto %+d -> %d", insn.Off, insn.JumpTarget(idx))
	case insn.IsBranch():
		cond := jmpSymbol(JmpOp(insn.Opcode))
		width := ""
		if cls == CLS_JMP32 {
			width = "(u32)"
		}
		rhs := fmt.Sprintf("%d", insn.Imm)
		if !UsesImm(insn.Opcode) {
			rhs = src
		}
		return fmt.Sprintf("if %s%s %s %s goto %+d -> %d", width, dst, cond, rhs, insn.Off, insn.JumpTarget(idx))
	case cls == CLS_ALU64 || cls == CLS_ALU32:
		return disasmAlu(insn, dst, src, cls)
	case insn.IsLoad():
		return fmt.Sprintf("%s = *(u%d *)(%s %+d)", dst, SizeBytes(Size(insn.Opcode))*8, src, insn.Off)
	case cls == CLS_STX:
		return fmt.Sprintf("*(u%d *)(%s %+d) = %s", SizeBytes(Size(insn.Opcode))*8, dst, insn.Off, src)
	case cls == CLS_ST:
		return fmt.Sprintf("*(u%d *)(%s %+d) = %d", SizeBytes(Size(insn.Opcode))*8, dst, insn.Off, insn.Imm)
	}
	return insn.String()
}

func disasmAlu(insn Instruction, dst, src string, cls byte) string {
	op := AluOp(insn.Opcode)
	if cls == CLS_ALU32 {
		dst = "(u32)" + dst
		src = "(u32)" + src
	}
	rhs := fmt.Sprintf("%d", insn.Imm)
	if !UsesImm(insn.Opcode) {
		rhs = src
	}
	switch op {
	case ALU_MOV:
		return fmt.Sprintf("%s = %s", dst, rhs)
	case ALU_NEG:
		return fmt.Sprintf("%s = -%s", dst, dst)
	case ALU_END:
		dir := "le"
		if !UsesImm(insn.Opcode) {
			dir = "be"
		}
		return fmt.Sprintf("%s = %s%d %s", dst, dir, insn.Imm, dst)
	}
	return fmt.Sprintf("%s %s= %s", dst, aluSymbol(op), rhs)
}

func aluSymbol(op byte) string {
	switch op {
	case ALU_ADD:
		return "+"
	case ALU_SUB:
		return "-"
	case ALU_MUL:
		return "*"
	case ALU_DIV:
		return "/"
	case ALU_OR:
		return "|"
	case ALU_AND:
		return "&"
	case ALU_LSH:
		return "<<"
	case ALU_RSH:
		return ">>"
	case ALU_MOD:
		return "%"
	case ALU_XOR:
		return "^"
	case ALU_ARSH:
		return "s>>"
	default:
		return "??"
	}
}

func jmpSymbol(op byte) string {
	switch op {
	case JMP_JEQ:
		return "=="
	case JMP_JNE:
		return "!="
	case JMP_JGT:
		return ">u"
	case JMP_JGE:
		return ">=u"
	case JMP_JLT:
		return "<u"
	case JMP_JLE:
		return "<=u"
	case JMP_JSGT:
		return ">s"
	case JMP_JSGE:
		return ">=s"
	case JMP_JSLT:
		return "<s"
	case JMP_JSLE:
		return "<=s"
	case JMP_JSET:
		return "&"
	default:
		return "??"
	}
}

// Disassemble renders a whole program, one instruction per line.
func Disassemble(insns []Instruction) string {
	var sb strings.Builder
	for i, insn := range insns {
		if insn.IsWideCont() {
			continue
		}
		var next Instruction
		if insn.IsWide() && i+1 < len(insns) {
			next = insns[i+1]
		}
		fmt.Fprintf(&sb, "%4d: %s\n", i, DisasmInsn(i, insn, next))
	}
	return sb.String()
}
