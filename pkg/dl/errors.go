package dl

import (
	"errors"
	"fmt"
	"reflect"
	"syscall"
)

var (
	// Category sentinels. Every error returned by this package matches one of
	// them with errors.Is.
	ErrOpen             = errors.New("open library failed")
	ErrFind             = errors.New("find symbol failed")
	ErrClose            = errors.New("close library failed")
	ErrNullSymbol       = errors.New("symbol resolved to a null address")
	ErrInteriorNul      = errors.New("interior NUL")
	ErrDecode           = errors.New("invalid text encoding")
	ErrIncompatibleType = errors.New("incompatible symbol type")

	// ErrLibraryClosed is returned when a library, or a symbol found in it,
	// is used after the library was closed.
	ErrLibraryClosed = errors.New("library closed")
)

// Op names the native loader call that failed.
type Op string

// Native loader calls.
const (
	OpDlopen             Op = "dlopen"
	OpDlsym              Op = "dlsym"
	OpDlclose            Op = "dlclose"
	OpLoadLibraryExW     Op = "LoadLibraryExW"
	OpGetModuleHandleExW Op = "GetModuleHandleExW"
	OpGetProcAddress     Op = "GetProcAddress"
	OpFreeLibrary        Op = "FreeLibrary"
)

func (op Op) category() error {
	switch op {
	case OpDlopen, OpLoadLibraryExW, OpGetModuleHandleExW:
		return ErrOpen
	case OpDlsym, OpGetProcAddress:
		return ErrFind
	case OpDlclose, OpFreeLibrary:
		return ErrClose
	default:
		return fmt.Errorf("unknown loader call %q", string(op))
	}
}

// Error is a failed native loader call.
type Error struct {
	// Op is the call that failed.
	Op Op
	// Name is the library or symbol name the call was made with.
	Name string
	// Desc is the dlerror text, copied before the loader lock was released.
	Desc string
	// Code is the Windows error code.
	Code syscall.Errno
	// Unknown is set when the call failed but the system reported nothing.
	Unknown bool
}

func (e *Error) Error() string {
	switch {
	case e.Unknown:
		return fmt.Sprintf("%s %q failed, but the system did not report the error", e.Op, e.Name)
	case e.Desc != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Desc)
	default:
		return fmt.Sprintf("%s %q failed: %v", e.Op, e.Name, e.Code)
	}
}

// Unwrap returns the category sentinel and, when set, the Windows error code.
func (e *Error) Unwrap() []error {
	errs := []error{e.Op.category()}
	if e.Code != 0 {
		errs = append(errs, e.Code)
	}
	return errs
}

// NullSymbolError is returned by Find when the loader resolved a symbol to a
// null address. Use FindOptional for symbols that may legitimately be null.
type NullSymbolError struct {
	Name string
}

func (e *NullSymbolError) Error() string {
	return fmt.Sprintf("symbol %q resolved to a null address", e.Name)
}

func (e *NullSymbolError) Unwrap() []error {
	return []error{ErrNullSymbol, ErrFind}
}

// InteriorNulError reports a terminator before the final position of a name.
// Position counts elements of the input: bytes for string and []byte input,
// code units for []uint16 input.
type InteriorNulError struct {
	Position int
}

func (e *InteriorNulError) Error() string {
	return fmt.Sprintf("interior NUL at position %d", e.Position)
}

func (e *InteriorNulError) Unwrap() error { return ErrInteriorNul }

// DecodeError reports an invalid sequence met while converting a name between
// UTF-8 and UTF-16.
type DecodeError struct {
	// Encoding is the encoding the input was expected to be in.
	Encoding string
	// Offset is the position of the invalid sequence in the input's own units.
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid %s sequence at offset %d", e.Encoding, e.Offset)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

// IncompatibleTypeError is returned when a symbol is requested as a type that
// cannot hold a symbol address.
type IncompatibleTypeError struct {
	Type reflect.Type
	// Size is the size of Type, Want the size of a native pointer.
	Size, Want uintptr
	Reason     string
}

func (e *IncompatibleTypeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("symbol type %v: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("symbol type %v has size %d, want %d", e.Type, e.Size, e.Want)
}

func (e *IncompatibleTypeError) Unwrap() error { return ErrIncompatibleType }
