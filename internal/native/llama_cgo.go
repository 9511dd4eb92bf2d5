//go:build llama

package native

// Link against libllama from ./bin and resolve it next to the binary at runtime.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
