// Package reflector caches the names of Go types used as event payloads.
package reflector

import (
	"reflect"
	"sync"
)

// TypeInfo describes a payload type. Pointer types are reduced to their
// element type, so T and *T share one TypeInfo.
type TypeInfo struct {
	// Name is "import/path.TypeName".
	Name string
	Type reflect.Type
}

var cache sync.Map // reflect.Type -> TypeInfo

func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeFor[T]())
}

func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	if ti, ok := cache.Load(t); ok {
		return ti.(TypeInfo)
	}
	elem := t
	for elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	ti := TypeInfo{Name: elem.PkgPath() + "." + elem.Name(), Type: elem}
	cache.Store(t, ti)
	return ti
}
