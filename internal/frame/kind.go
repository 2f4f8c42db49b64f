// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import "fmt"

// A Kind identifies the native frame type. The runtime stores it one
// word below the frame pointer of every frame it builds.
type Kind uint64

const (
	Optimized            Kind = iota + 1 // AOT-compiled stub or helper calling out
	OptimizedJSFunction                  // AOT-compiled JS function
	OptimizedEntry                       // runtime → AOT transition
	Leave                                // AOT → runtime call
	LeaveWithArgv                        // AOT → runtime call with spilled argv
	Builtin                              // hand-written builtin
	BuiltinEntry                         // runtime → builtin transition
	Interpreter                          // interpreted function
	InterpreterEntry                     // runtime → interpreter transition
	AsmInterpreterBridge                 // interpreter → AOT transition
)

var kindNames = [...]string{
	Optimized:            "Optimized",
	OptimizedJSFunction:  "OptimizedJSFunction",
	OptimizedEntry:       "OptimizedEntry",
	Leave:                "Leave",
	LeaveWithArgv:        "LeaveWithArgv",
	Builtin:              "Builtin",
	BuiltinEntry:         "BuiltinEntry",
	Interpreter:          "Interpreter",
	InterpreterEntry:     "InterpreterEntry",
	AsmInterpreterBridge: "AsmInterpreterBridge",
}

func (k Kind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint64(k))
}

// A layout says where a frame of some kind keeps the link to its
// caller. Offsets are in pointer-sized words from the frame pointer.
type layout struct {
	prevFP  int64 // caller's frame pointer
	retAddr int64 // return address into the caller
	// callerSP is the caller's stack pointer at the call, i.e. the
	// word just above the pushed return address.
	callerSP int64
	// stackMap reports whether the frame, when suspended at a call,
	// has a stack map for that call.
	stackMap bool
}

// The type word lives at fp-1 word for every kind.
const kindSlot = -1

var layouts = map[Kind]layout{
	Optimized:           {prevFP: 0, retAddr: 1, callerSP: 2, stackMap: true},
	OptimizedJSFunction: {prevFP: 0, retAddr: 1, callerSP: 2, stackMap: true},
	OptimizedEntry:      {prevFP: 0, retAddr: 1, callerSP: 2},
	// Leave frames spill the runtime call's argc and argv below the
	// type word; the link to the AOT caller is in the usual place.
	Leave:         {prevFP: 0, retAddr: 1, callerSP: 2},
	LeaveWithArgv: {prevFP: 0, retAddr: 1, callerSP: 2},
	Builtin:       {prevFP: 0, retAddr: 1, callerSP: 2},
	BuiltinEntry:  {prevFP: 0, retAddr: 1, callerSP: 2},
	// Interpreter frames keep the interpreter's saved pc (a bytecode
	// address) where native frames keep the return address, so the link
	// is one word further up.
	Interpreter:          {prevFP: 0, retAddr: 2, callerSP: 3},
	InterpreterEntry:     {prevFP: 0, retAddr: 1, callerSP: 2},
	AsmInterpreterBridge: {prevFP: 0, retAddr: 1, callerSP: 2},
}

// HasStackMap reports whether frames of kind k participate in
// stack-map lookup. Entry, bridge, builtin and interpreter frames do not.
func (k Kind) HasStackMap() bool {
	return layouts[k].stackMap
}
