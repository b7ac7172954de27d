// Package types holds the flatbuffers tables of the escrow ledger, attestation documents
// and transport envelopes. Table accessors are generated from schema/escrow.fbs.
package types

//go:generate flatc --go -o .. ../../schema/escrow.fbs

import "fmt"

// Read runs fn against a flatbuffers view and reports a truncated or corrupt buffer as an
// error instead of a panic. Accessors index the raw buffer without bounds checks of their own.
func Read(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt flatbuffer: %v", r)
		}
	}()

	fn()

	return nil
}
