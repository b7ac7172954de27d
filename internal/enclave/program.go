package enclave

// ThresholdProgram is the reference evaluation program. It exports
//
//	pass(sse, n, scale, t2 i64) i32 = sse*scale <=u t2*n
//
// which decides mean squared error <= t2/scale without division.
var ThresholdProgram = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version 1

	// type section: (i64, i64, i64, i64) -> i32
	0x01, 0x09, 0x01, 0x60, 0x04, 0x7e, 0x7e, 0x7e, 0x7e, 0x01, 0x7f,

	// function section: one function of type 0
	0x03, 0x02, 0x01, 0x00,

	// export section: "pass" -> func 0
	0x07, 0x08, 0x01, 0x04, 0x70, 0x61, 0x73, 0x73, 0x00, 0x00,

	// code section
	0x0a, 0x0f, 0x01, 0x0d, 0x00,
	0x20, 0x00, // local.get sse
	0x20, 0x02, // local.get scale
	0x7e,       // i64.mul
	0x20, 0x03, // local.get t2
	0x20, 0x01, // local.get n
	0x7e,       // i64.mul
	0x58,       // i64.le_u
	0x0b,       // end
}

// passExport is the function every evaluation program must export.
const passExport = "pass"
