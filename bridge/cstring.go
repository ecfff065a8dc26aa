package bridge

import "unsafe"

// CString returns a NUL-terminated copy of s for a const char* argument.
// The copy is Go memory and stays valid while the caller holds the pointer.
func CString(s string) *byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &b[0]
}

// GoString copies a NUL-terminated native string. A nil pointer yields "".
func GoString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}
