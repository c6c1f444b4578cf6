package system

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupStackLIFO(t *testing.T) {
	stack := NewCleanupStack()

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		stack.Add(func() error {
			order = append(order, i)
			return nil
		})
	}

	require.NoError(t, stack.Execute())
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestCleanupStackAggregatesErrors(t *testing.T) {
	stack := NewCleanupStack()

	ran := 0
	stack.Add(func() error { ran++; return errors.New("first") })
	stack.Add(func() error { ran++; return nil })
	stack.Add(func() error { ran++; return errors.New("last") })

	err := stack.Execute()
	require.Error(t, err)
	assert.Equal(t, 3, ran, "a failing cleanup must not stop the rest")
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "last")
}

func TestCleanupStackExecuteTwice(t *testing.T) {
	stack := NewCleanupStack()

	ran := 0
	stack.Add(func() error { ran++; return nil })

	require.NoError(t, stack.Execute())
	require.NoError(t, stack.Execute())
	assert.Equal(t, 1, ran)
}

func TestCleanupStackClear(t *testing.T) {
	stack := NewCleanupStack()
	stack.Add(func() error { t.Fatal("cleared cleanup must not run"); return nil })

	stack.Clear()
	require.NoError(t, stack.Execute())
}
