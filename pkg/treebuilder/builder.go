package treebuilder

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"casvault/pkg/core"
	"casvault/pkg/ignore"
	"casvault/pkg/types"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

// Result 是一次构建的产物
// Blobs 包含所有 Directory 和文件内容，可以直接交给 client.UploadBlobs
type Result struct {
	Root  types.Digest
	Blobs map[types.Digest][]byte

	Files       int
	Directories int
	TotalBytes  int64 // 文件内容总大小 (去重前)
}

// Builder 把本地目录转换为 REAPI 的 Directory Merkle DAG
type Builder struct {
	matcher *ignore.Matcher
}

// NewBuilder matcher 可以为 nil (不忽略任何东西)
func NewBuilder(matcher *ignore.Matcher) *Builder {
	return &Builder{matcher: matcher}
}

// Build 自底向上构建，返回根目录的 Digest
func (b *Builder) Build(ctx context.Context, rootPath string) (*Result, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", rootPath)
	}

	res := &Result{Blobs: make(map[types.Digest][]byte)}
	root, err := b.writeDir(ctx, rootPath, "", res)
	if err != nil {
		return nil, err
	}
	res.Root = root
	return res, nil
}

// writeDir 递归处理一个目录 (核心算法)
// rel 是相对根目录的 "/" 分隔路径，用于匹配忽略规则
func (b *Builder) writeDir(ctx context.Context, absPath, rel string, res *Result) (types.Digest, error) {
	if err := ctx.Err(); err != nil {
		return types.Digest{}, err
	}

	// os.ReadDir 已按文件名排序，Directory 的各个列表因此天然有序 (Digest 确定)
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return types.Digest{}, fmt.Errorf("failed to read dir %s: %w", absPath, err)
	}

	dir := &remoteexecution.Directory{}
	for _, entry := range entries {
		childRel := path.Join(rel, entry.Name())
		if b.matcher.Matches(childRel) {
			continue
		}
		childAbs := filepath.Join(absPath, entry.Name())

		switch {
		case entry.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(childAbs)
			if err != nil {
				return types.Digest{}, fmt.Errorf("failed to read symlink %s: %w", childAbs, err)
			}
			dir.Symlinks = append(dir.Symlinks, &remoteexecution.SymlinkNode{Name: entry.Name(), Target: target})

		case entry.IsDir():
			childDigest, err := b.writeDir(ctx, childAbs, childRel, res)
			if err != nil {
				return types.Digest{}, err
			}
			dir.Directories = append(dir.Directories, &remoteexecution.DirectoryNode{
				Name:   entry.Name(),
				Digest: childDigest.ToProto(),
			})

		case entry.Type().IsRegular():
			node, err := b.writeFile(childAbs, entry, res)
			if err != nil {
				return types.Digest{}, err
			}
			dir.Files = append(dir.Files, node)

		default:
			// 设备文件、管道、socket 无法内容寻址，跳过
		}
	}

	d, data, err := core.EncodeDirectory(dir)
	if err != nil {
		return types.Digest{}, err
	}
	res.Blobs[d] = data
	res.Directories++
	return d, nil
}

func (b *Builder) writeFile(absPath string, entry fs.DirEntry, res *Result) (*remoteexecution.FileNode, error) {
	info, err := entry.Info()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", absPath, err)
	}

	d := core.ComputeDigest(data)
	res.Blobs[d] = data
	res.Files++
	res.TotalBytes += d.SizeBytes

	return &remoteexecution.FileNode{
		Name:         entry.Name(),
		Digest:       d.ToProto(),
		IsExecutable: info.Mode()&0o111 != 0,
	}, nil
}
