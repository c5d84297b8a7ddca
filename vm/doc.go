// Package vm implements the dgml dialog runtime.
//
// This package contains:
//   - On-disk bundle layout (dgmlb format, version 01)
//   - Bundle reader that materializes an owned, immutable dialog tree
//   - Bundle builder that assembles the same format programmatically
//   - Typed environment store with per-variable string capacity
//   - Stack-based bytecode evaluator for conditions and run blocks
//   - Graph stepper that walks a section's nodes and yields at
//     interactive ones (say, choice)
//
// A Tree is immutable after load and may be shared by any number of VMs.
// Everything mutable (environment, cursor, scratch buffers) lives in the VM.
package vm
