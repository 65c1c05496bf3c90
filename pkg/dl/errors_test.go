package dl

import (
	"errors"
	"reflect"
	"syscall"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "dlerror text",
			err:  &Error{Op: OpDlopen, Name: "libnope.so", Desc: "libnope.so: cannot open shared object file"},
			want: "dlopen: libnope.so: cannot open shared object file",
		},
		{
			name: "unknown",
			err:  &Error{Op: OpDlclose, Name: "libm.so", Unknown: true},
			want: `dlclose "libm.so" failed, but the system did not report the error`,
		},
		{
			name: "null symbol",
			err:  &NullSymbolError{Name: "weak_fn"},
			want: `symbol "weak_fn" resolved to a null address`,
		},
		{
			name: "interior nul",
			err:  &InteriorNulError{Position: 4},
			want: "interior NUL at position 4",
		},
		{
			name: "decode",
			err:  &DecodeError{Encoding: "UTF-16", Offset: 7},
			want: "invalid UTF-16 sequence at offset 7",
		},
		{
			name: "incompatible size",
			err:  &IncompatibleTypeError{Type: reflect.TypeFor[[2]uintptr](), Size: 16, Want: 8},
			want: "symbol type [2]uintptr has size 16, want 8",
		},
		{
			name: "incompatible kind",
			err:  &IncompatibleTypeError{Type: reflect.TypeFor[map[int]int](), Reason: "no"},
			want: "symbol type map[int]int: no",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		err      error
		category error
	}{
		{&Error{Op: OpDlopen}, ErrOpen},
		{&Error{Op: OpLoadLibraryExW}, ErrOpen},
		{&Error{Op: OpGetModuleHandleExW}, ErrOpen},
		{&Error{Op: OpDlsym}, ErrFind},
		{&Error{Op: OpGetProcAddress}, ErrFind},
		{&Error{Op: OpDlclose}, ErrClose},
		{&Error{Op: OpFreeLibrary}, ErrClose},
		{&NullSymbolError{}, ErrFind},
		{&NullSymbolError{}, ErrNullSymbol},
		{&InteriorNulError{}, ErrInteriorNul},
		{&DecodeError{}, ErrDecode},
		{&IncompatibleTypeError{}, ErrIncompatibleType},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.category) {
			t.Errorf("%#v does not match %v", tt.err, tt.category)
		}
	}

	if errors.Is(&Error{Op: OpDlsym}, ErrOpen) {
		t.Error("a dlsym failure matches ErrOpen")
	}
}

func TestErrorUnwrapsCode(t *testing.T) {
	const errModNotFound = syscall.Errno(126)
	err := &Error{Op: OpLoadLibraryExW, Name: "nope.dll", Code: errModNotFound}
	if !errors.Is(err, errModNotFound) {
		t.Error("error does not match its code")
	}
	if !errors.Is(err, ErrOpen) {
		t.Error("error does not match ErrOpen")
	}

	silent := &Error{Op: OpLoadLibraryExW, Name: "nope.dll", Unknown: true}
	if len(silent.Unwrap()) != 1 {
		t.Errorf("Unwrap() = %v, want only the category", silent.Unwrap())
	}
}
