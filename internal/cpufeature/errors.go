package cpufeature

import "errors"

// ErrOSXSAVENotSet is returned by Enable when any AVX/AVX-512/AMX state is
// requested but CR4.OSXSAVE has not yet been set: writing XCR0 before that
// point is undefined per the Intel SDM, so this package refuses to even
// attempt it.
var ErrOSXSAVENotSet = errors.New("cpufeature: CR4.OSXSAVE not set before XCR0 write")
