package source

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// eligibleProgram accepts unfragmented (or first-fragment) IPv4 datagrams
// carrying TCP or UDP. It runs against the datagram, not the link frame.
var eligibleProgram = []bpf.Instruction{
	/* 0 */ bpf.LoadAbsolute{Off: 0, Size: 1},
	/* 1 */ bpf.ALUOpConstant{Op: bpf.ALUOpShiftRight, Val: 4},
	/* 2 */ bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 4, SkipTrue: 6},
	/* 3 */ bpf.LoadAbsolute{Off: 6, Size: 2},
	/* 4 */ bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 4},
	/* 5 */ bpf.LoadAbsolute{Off: 9, Size: 1},
	/* 6 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipTrue: 1},
	/* 7 */ bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 17, SkipTrue: 1},
	/* 8 */ bpf.RetConstant{Val: 0xffff},
	/* 9 */ bpf.RetConstant{Val: 0},
}

// Eligibility decides which datagrams go through deep inspection.
type Eligibility struct {
	vm *bpf.VM
}

// NewEligibility assembles the eligibility program.
func NewEligibility() (*Eligibility, error) {
	vm, err := bpf.NewVM(eligibleProgram)
	if err != nil {
		return nil, fmt.Errorf("load eligibility filter: %w", err)
	}
	return &Eligibility{vm: vm}, nil
}

// Eligible reports whether datagram should be inspected. A nil
// Eligibility accepts everything.
func (e *Eligibility) Eligible(datagram []byte) bool {
	if e == nil {
		return true
	}
	n, err := e.vm.Run(datagram)
	return err == nil && n > 0
}

// Raw returns the program in its wire encoding, as attached to a socket.
func (e *Eligibility) Raw() ([]bpf.RawInstruction, error) {
	return bpf.Assemble(eligibleProgram)
}
