package httpmsg

import "bytes"

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func trimSpace(b []byte) []byte {
	return bytes.TrimSpace(b)
}

func splitComma(b []byte) [][]byte {
	return bytes.Split(b, []byte(","))
}
