// Package reflector names Go types for diagnostics and routing fallbacks.
package reflector

import (
	"reflect"
	"sync"
)

var (
	muCache sync.RWMutex
	cache   = make(map[reflect.Type]TypeInfo)
)

type TypeInfo struct {
	// Name is the fully qualified name, e.g. "github.com/x/y/wallet.GetBalance".
	Name string
	// Short is the package-local name, e.g. "wallet.GetBalance".
	Short string
	Type  reflect.Type
}

func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeOf((*T)(nil)).Elem())
}

func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{Name: "<nil>", Short: "<nil>"}
	}

	muCache.RLock()
	ti, ok := cache[t]
	muCache.RUnlock()
	if ok {
		return ti
	}

	key := t
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	ti = TypeInfo{Type: t, Short: t.String()}
	if t.PkgPath() != "" {
		ti.Name = t.PkgPath() + "." + t.Name()
	} else {
		ti.Name = t.String()
	}

	muCache.Lock()
	cache[key] = ti
	muCache.Unlock()
	return ti
}
