package treebuilder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"casvault/pkg/core"
	"casvault/pkg/ignore"
	"casvault/pkg/types"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree 按 path -> content 创建文件
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for p, content := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func decode(t *testing.T, res *Result, d types.Digest) *remoteexecution.Directory {
	t.Helper()
	data, ok := res.Blobs[d]
	require.True(t, ok, "directory %s not in result", d)
	dir, err := core.DecodeDirectory(data)
	require.NoError(t, err)
	return dir
}

func TestTreeBuilder(t *testing.T) {
	// root
	//  ├── a.txt
	//  ├── run.sh (可执行)
	//  └── sub
	//       └── b.txt
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"a.txt":     "content-a",
		"run.sh":    "#!/bin/sh",
		"sub/b.txt": "content-b",
	})
	require.NoError(t, os.Chmod(filepath.Join(tmpDir, "run.sh"), 0755))

	res, err := NewBuilder(nil).Build(context.Background(), tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 2, res.Directories)

	root := decode(t, res, res.Root)
	require.Len(t, root.GetFiles(), 2)
	assert.Equal(t, "a.txt", root.GetFiles()[0].GetName())
	assert.Equal(t, "run.sh", root.GetFiles()[1].GetName())
	assert.False(t, root.GetFiles()[0].GetIsExecutable())
	assert.True(t, root.GetFiles()[1].GetIsExecutable())

	require.Len(t, root.GetDirectories(), 1)
	sub := decode(t, res, types.FromProto(root.GetDirectories()[0].GetDigest()))
	require.Len(t, sub.GetFiles(), 1)

	// 文件内容也在 Blobs 里
	bDigest := types.FromProto(sub.GetFiles()[0].GetDigest())
	assert.Equal(t, []byte("content-b"), res.Blobs[bDigest])
}

func TestTreeBuilder_Deterministic(t *testing.T) {
	files := map[string]string{"x/1": "one", "x/2": "two", "y": "why"}

	dirA, dirB := t.TempDir(), t.TempDir()
	writeTree(t, dirA, files)
	writeTree(t, dirB, files)

	resA, err := NewBuilder(nil).Build(context.Background(), dirA)
	require.NoError(t, err)
	resB, err := NewBuilder(nil).Build(context.Background(), dirB)
	require.NoError(t, err)

	assert.Equal(t, resA.Root, resB.Root)
}

func TestTreeBuilder_IdenticalContentShared(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"l/f": "same", "r/f": "same"})

	res, err := NewBuilder(nil).Build(context.Background(), tmpDir)
	require.NoError(t, err)

	// l 和 r 内容相同，得到同一个 Directory Digest
	root := decode(t, res, res.Root)
	require.Len(t, root.GetDirectories(), 2)
	assert.Equal(t, root.GetDirectories()[0].GetDigest().GetHash(), root.GetDirectories()[1].GetDigest().GetHash())
	// root + 共享的子目录 + 一个文件
	assert.Len(t, res.Blobs, 3)
}

func TestTreeBuilder_RespectsIgnore(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"keep.txt":        "keep",
		"debug.log":       "noise",
		".casvault/cas/x": "local store",
		ignore.FileName:   "*.log\n",
	})

	matcher, err := ignore.NewMatcher(tmpDir)
	require.NoError(t, err)

	res, err := NewBuilder(matcher).Build(context.Background(), tmpDir)
	require.NoError(t, err)

	root := decode(t, res, res.Root)
	var names []string
	for _, f := range root.GetFiles() {
		names = append(names, f.GetName())
	}
	assert.Equal(t, []string{ignore.FileName, "keep.txt"}, names)
	assert.Empty(t, root.GetDirectories())
}

func TestTreeBuilder_EmptyDir(t *testing.T) {
	res, err := NewBuilder(nil).Build(context.Background(), t.TempDir())
	require.NoError(t, err)

	_, data, err := core.EncodeDirectory(&remoteexecution.Directory{})
	require.NoError(t, err)
	assert.Equal(t, core.ComputeDigest(data), res.Root)
}

func TestTreeBuilder_NotADirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0644))

	_, err := NewBuilder(nil).Build(context.Background(), f)
	assert.Error(t, err)
}
