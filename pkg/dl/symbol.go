package dl

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

const ptrSize = unsafe.Sizeof(uintptr(0))

// Symbol is a symbol found in a Library, usable as a value of type T.
//
// T is either a func type, in which case the symbol is called through
// purego, or another pointer-sized type the address is reinterpreted as:
// a pointer to the symbol's data, unsafe.Pointer or uintptr.
//
// A Symbol keeps its Library reachable. After the Library is closed the
// Symbol fails with ErrLibraryClosed. Values of non-func types carry no
// such reference, so the first Get of one pins the library in memory until
// it is closed explicitly.
type Symbol[T any] struct {
	addr uintptr
	lib  *Library

	once    sync.Once
	raw     T
	guarded T
	err     error
}

// OptionalSymbol is the result of looking up a symbol whose address may be
// null.
type OptionalSymbol[T any] struct {
	addr uintptr
	lib  *Library
}

// RawSymbol is a symbol detached from its Library. Nothing keeps the
// library loaded while only a RawSymbol refers to it.
type RawSymbol[T any] struct {
	addr uintptr
}

// Addr returns the symbol's address.
func (r RawSymbol[T]) Addr() uintptr { return r.addr }

// Find looks up the named symbol in lib as a value of type T. A symbol that
// resolves to a null address is an error wrapping ErrNullSymbol.
func Find[T any, N Text](lib *Library, name N) (*Symbol[T], error) {
	opt, err := FindOptional[T](lib, name)
	if err != nil {
		return nil, err
	}
	sym, ok := opt.Lift()
	if !ok {
		return nil, &NullSymbolError{Name: textOf(name).String()}
	}
	return sym, nil
}

// FindOptional is like Find but accepts a null address.
func FindOptional[T any, N Text](lib *Library, name N) (*OptionalSymbol[T], error) {
	if err := checkType[T](); err != nil {
		return nil, err
	}
	addr, err := Lookup(lib, name)
	if err != nil {
		return nil, err
	}
	return &OptionalSymbol[T]{addr: addr, lib: lib}, nil
}

// Lift returns the symbol, or false when its address is null.
func (o *OptionalSymbol[T]) Lift() (*Symbol[T], bool) {
	if o.addr == 0 {
		return nil, false
	}
	return &Symbol[T]{addr: o.addr, lib: o.lib}, true
}

// FromRaw reattaches a RawSymbol to a Library. lib must be the library the
// symbol was found in, and must still be open; this is not checked.
func FromRaw[T any](raw RawSymbol[T], lib *Library) *Symbol[T] {
	return &Symbol[T]{addr: raw.addr, lib: lib}
}

// Get returns the symbol as a T.
//
// For func types the returned func fails, by panicking with an error
// wrapping ErrLibraryClosed, once the library is closed, and Close waits for
// calls through it to return.
//
// Values of other types point into the library. Getting one disables the
// library's automatic close, so the value stays valid until Close is called
// explicitly, after which it must not be used. Use does not have this
// effect.
func (s *Symbol[T]) Get() (T, error) {
	if s.lib.isClosed() {
		var zero T
		return zero, s.lib.closedError()
	}
	if err := s.bind(); err != nil {
		var zero T
		return zero, err
	}
	if reflect.TypeFor[T]().Kind() != reflect.Func {
		s.lib.retain()
	}
	return s.guarded, nil
}

// MustGet is like Get but panics if the symbol cannot be used.
func (s *Symbol[T]) MustGet() T {
	v, err := s.Get()
	if err != nil {
		panic(err)
	}
	return v
}

// Use calls fn with the symbol while keeping the library loaded. fn must not
// retain its argument or close the library.
func (s *Symbol[T]) Use(fn func(T) error) error {
	if err := s.lib.pin(); err != nil {
		return err
	}
	defer s.lib.unpin()
	if err := s.bind(); err != nil {
		return err
	}
	return fn(s.raw)
}

// Addr returns the symbol's address.
func (s *Symbol[T]) Addr() uintptr { return s.addr }

// Library returns the library the symbol was found in.
func (s *Symbol[T]) Library() *Library { return s.lib }

// IntoRaw detaches the symbol from its library. See FromRaw.
func (s *Symbol[T]) IntoRaw() RawSymbol[T] {
	return RawSymbol[T]{addr: s.addr}
}

func (s *Symbol[T]) String() string {
	return fmt.Sprintf("dl.Symbol[%v](%#x in %s)", reflect.TypeFor[T](), s.addr, s.lib.displayName())
}

func (s *Symbol[T]) bind() error {
	s.once.Do(func() {
		s.raw, s.err = bindValue[T](s.addr)
		if s.err != nil {
			return
		}
		s.guarded = s.raw
		if reflect.TypeFor[T]().Kind() == reflect.Func {
			s.guarded = guardCalls(s.raw, s.lib)
		}
	})
	return s.err
}

func checkType[T any]() error {
	typ := reflect.TypeFor[T]()
	switch typ.Kind() {
	case reflect.Map, reflect.Chan:
		return &IncompatibleTypeError{Type: typ, Size: typ.Size(), Want: ptrSize,
			Reason: "a " + typ.Kind().String() + " cannot refer to native memory"}
	}
	if typ.Size() != ptrSize {
		return &IncompatibleTypeError{Type: typ, Size: typ.Size(), Want: ptrSize}
	}
	return nil
}

// bindValue converts addr to a T. Func types are registered with purego,
// whose signature checks panic; the panic is returned as an error.
func bindValue[T any](addr uintptr) (v T, err error) {
	if err := checkType[T](); err != nil {
		return v, err
	}
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Func {
		*(*uintptr)(unsafe.Pointer(&v)) = addr
		return v, nil
	}
	if addr == 0 {
		return v, &IncompatibleTypeError{Type: typ, Size: typ.Size(), Want: ptrSize,
			Reason: "cannot call a null address"}
	}
	defer func() {
		if r := recover(); r != nil {
			err = &IncompatibleTypeError{Type: typ, Size: typ.Size(), Want: ptrSize,
				Reason: fmt.Sprint(r)}
		}
	}()
	purego.RegisterFunc(&v, addr)
	return v, nil
}

// guardCalls wraps fn so that every call pins lib for its duration.
func guardCalls[T any](fn T, lib *Library) T {
	rv := reflect.ValueOf(fn)
	call := rv.Call
	if rv.Type().IsVariadic() {
		call = rv.CallSlice
	}
	return reflect.MakeFunc(rv.Type(), func(args []reflect.Value) []reflect.Value {
		if err := lib.pin(); err != nil {
			panic(err)
		}
		defer lib.unpin()
		return call(args)
	}).Interface().(T)
}
