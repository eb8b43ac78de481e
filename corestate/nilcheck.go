package corestate

import "reflect"

// isNilable reports whether x is a Go nil: an untyped nil, or a nil
// chan, func, interface, map, pointer or slice — the only shapes a
// nil-key/nil-value check can mean once K and V are generic type
// parameters. Value-shaped keys and values (ints, strings, structs,
// arrays) can never be nil and always report false.
func isNilable(x any) bool {
	if x == nil {
		return true
	}
	switch reflect.ValueOf(x).Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return reflect.ValueOf(x).IsNil()
	default:
		return false
	}
}
