package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"casvault/pkg/core"
	"casvault/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetHas(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	data := []byte("in memory")
	d := core.ComputeDigest(data)

	exists, err := s.Has(ctx, d)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Put(ctx, d, data))

	// 修改调用方的切片，不影响已存储的内容
	data[0] = 'X'

	got, err := storage.ReadAll(ctx, s, d)
	require.NoError(t, err)
	assert.Equal(t, []byte("in memory"), got)

	exists, err = s.Has(ctx, d)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewStore()
	_, err := s.Get(context.Background(), core.ComputeDigest([]byte("ghost")))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStore_EmptyBlob(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, core.EmptyDigest, nil))
	got, err := storage.ReadAll(ctx, s, core.EmptyDigest)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// 一半的 goroutine 写同一个对象
			data := []byte(fmt.Sprintf("blob-%d", i%25))
			d := core.ComputeDigest(data)
			assert.NoError(t, s.Put(ctx, d, data))
			ok, err := s.Has(ctx, d)
			assert.NoError(t, err)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, s.Len())
}
