package dontpanic

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTry(t *testing.T) {
	require.True(t, Try(func() {}))
	require.False(t, Try(func() { panic(errors.New("boom")) }))
	require.False(t, Try(func() { panic("not an error") }))
}

func TestGo(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	Go(func() {
		defer wg.Done()
		panic("recovered in goroutine")
	})

	wg.Wait()
}
