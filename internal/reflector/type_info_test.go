package reflector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type created struct{}

const createdName = "github.com/codewandler/esk-go/internal/reflector.created"

func TestTypeInfo(t *testing.T) {
	require.Equal(t, createdName, TypeInfoOf(created{}).Name)
	require.Equal(t, createdName, TypeInfoOf(&created{}).Name)
	require.Equal(t, createdName, TypeInfoFor[*created]().Name)
	require.Equal(t, TypeInfoOf(created{}).Type, TypeInfoOf(&created{}).Type)

	require.Equal(t, TypeInfo{}, TypeInfoOf(nil))
	require.Equal(t, "github.com/codewandler/esk-go/internal/reflector.TypeInfo", TypeInfoFor[TypeInfo]().Name)
}
