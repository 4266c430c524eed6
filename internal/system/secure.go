package system

import (
	"io"
	"runtime"
)

// SecureBytes wraps a byte slice with automatic zeroing to prevent
// sensitive data from remaining in memory longer than necessary.
type SecureBytes struct {
	data []byte
}

// NewSecureBytes takes ownership of data; the caller must not keep using it.
func NewSecureBytes(data []byte) *SecureBytes {
	sb := &SecureBytes{data: data}
	runtime.SetFinalizer(sb, func(s *SecureBytes) {
		s.Zeroize()
	})
	return sb
}

// SecureString copies s into a SecureBytes.
func SecureString(s string) *SecureBytes {
	return NewSecureBytes([]byte(s))
}

// Bytes returns the underlying byte slice.
// The caller should not retain this slice or store it elsewhere.
func (s *SecureBytes) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.data
}

// Len returns the length of the underlying data.
func (s *SecureBytes) Len() int {
	if s == nil {
		return 0
	}
	return len(s.data)
}

// Feed writes the secret followed by a newline and closes w, signalling
// end of input to the reading process.
func (s *SecureBytes) Feed(w io.WriteCloser) error {
	buf := make([]byte, 0, s.Len()+1)
	buf = append(buf, s.Bytes()...)
	buf = append(buf, '\n')
	defer clear(buf)

	_, err := w.Write(buf)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}

// Zeroize explicitly zeros the underlying memory.
// This should be called via defer when the sensitive data is no longer needed.
func (s *SecureBytes) Zeroize() {
	if s == nil || s.data == nil {
		return
	}
	clear(s.data)
	s.data = nil
}
