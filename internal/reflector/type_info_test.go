package reflector

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type testStruct struct {
	Name string
}

func TestTypeInfoOf(t *testing.T) {
	ti := TypeInfoOf(testStruct{Name: "test"})
	require.Equal(t, "github.com/codewandler/walletrt-go/internal/reflector.testStruct", ti.Name)
	require.Equal(t, "reflector.testStruct", ti.Short)
	require.Equal(t, "testStruct", ti.Type.Name())
}

func TestTypeInfoOf_Pointer(t *testing.T) {
	ti := TypeInfoOf(&testStruct{})
	require.Equal(t, "github.com/codewandler/walletrt-go/internal/reflector.testStruct", ti.Name)
	require.NotEqual(t, reflect.Pointer, ti.Type.Kind())
}

func TestTypeInfoFor_Builtin(t *testing.T) {
	require.Equal(t, "string", TypeInfoFor[string]().Name)
	require.Equal(t, "[]int", TypeInfoFor[[]int]().Short)
}

func TestTypeInfoOf_Nil(t *testing.T) {
	require.Equal(t, "<nil>", TypeInfoOf(nil).Name)
}

func TestTypeInfo_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = TypeInfoFor[testStruct]()
			_ = TypeInfoOf(&testStruct{})
		}()
	}
	wg.Wait()
}
