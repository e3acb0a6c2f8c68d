package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"casvault/pkg/core"
	"casvault/pkg/types"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/sourcegraph/conc/pool"
)

// BlobSource 是检出需要的远端能力 (*client.Client 实现了它)
type BlobSource interface {
	GetTree(ctx context.Context, root types.Digest) ([]*remoteexecution.Directory, error)
	ReadBlobs(ctx context.Context, digests []types.Digest) (map[types.Digest][]byte, error)
}

// RestoreCallback 每写出一个文件调用一次 (可能并发调用)
type RestoreCallback func(path string, digest types.Digest)

// Stats 是一次检出的统计
type Stats struct {
	Files       int
	Directories int
	Bytes       int64
}

type Exporter struct {
	src       BlobSource
	workers   int
	groupSize int
	logger    *slog.Logger
}

func NewExporter(src BlobSource, workers int, logger *slog.Logger) *Exporter {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{src: src, workers: workers, groupSize: 64, logger: logger}
}

// fileTask 是一个待写出的文件
type fileTask struct {
	path       string
	digest     types.Digest
	executable bool
}

type linkTask struct {
	path   string
	target string
}

// Checkout 把 root 对应的目录树还原到 targetDir
// 1. GetTree 一次拿到所有 Directory
// 2. 按树结构创建目录，收集文件和符号链接
// 3. 文件分组并发下载，校验 Digest 后写盘
// 4. 最后创建符号链接，写文件时路径上不会有本次检出产生的链接
func (e *Exporter) Checkout(ctx context.Context, root types.Digest, targetDir string, onRestore RestoreCallback) (Stats, error) {
	var stats Stats

	dirs, err := e.src.GetTree(ctx, root)
	if err != nil {
		return stats, err
	}
	byDigest := make(map[types.Digest]*remoteexecution.Directory, len(dirs))
	for _, dir := range dirs {
		d, _, err := core.EncodeDirectory(dir)
		if err != nil {
			return stats, err
		}
		byDigest[d] = dir
	}

	// 2. 布局
	var (
		files []fileTask
		links []linkTask
	)
	onPath := make(map[types.Digest]bool)
	var layout func(d types.Digest, dirPath string) error
	layout = func(d types.Digest, dirPath string) error {
		dir, ok := byDigest[d]
		if !ok {
			return fmt.Errorf("directory %s missing from tree response", d)
		}
		if onPath[d] {
			return fmt.Errorf("directory %s contains itself", d)
		}
		if err := checkUniqueNames(dir); err != nil {
			return fmt.Errorf("directory %s: %w", d, err)
		}
		onPath[d] = true
		defer delete(onPath, d)
		if err := os.MkdirAll(dirPath, 0755); err != nil {
			return fmt.Errorf("failed to create dir %s: %w", dirPath, err)
		}
		stats.Directories++

		for _, f := range dir.GetFiles() {
			p, err := safeJoin(dirPath, f.GetName())
			if err != nil {
				return err
			}
			// 目标目录里遗留的链接会让 WriteFile 写到别处
			if err := clearSymlink(p); err != nil {
				return err
			}
			files = append(files, fileTask{path: p, digest: types.FromProto(f.GetDigest()), executable: f.GetIsExecutable()})
		}
		for _, l := range dir.GetSymlinks() {
			p, err := safeJoin(dirPath, l.GetName())
			if err != nil {
				return err
			}
			links = append(links, linkTask{path: p, target: l.GetTarget()})
		}
		for _, sub := range dir.GetDirectories() {
			p, err := safeJoin(dirPath, sub.GetName())
			if err != nil {
				return err
			}
			// MkdirAll 会跟随已存在的链接
			if err := clearSymlink(p); err != nil {
				return err
			}
			if err := layout(types.FromProto(sub.GetDigest()), p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := layout(root, targetDir); err != nil {
		return stats, err
	}

	// 3. 下载
	var written atomic.Int64
	p := pool.New().WithMaxGoroutines(e.workers).WithContext(ctx).WithCancelOnError()
	for start := 0; start < len(files); start += e.groupSize {
		group := files[start:min(start+e.groupSize, len(files))]
		p.Go(func(ctx context.Context) error {
			n, err := e.restoreGroup(ctx, group, onRestore)
			written.Add(n)
			return err
		})
	}
	if err := p.Wait(); err != nil {
		return stats, err
	}

	// 4. 符号链接
	for _, l := range links {
		_ = os.Remove(l.path)
		if err := os.Symlink(l.target, l.path); err != nil {
			return stats, fmt.Errorf("failed to create symlink %s: %w", l.path, err)
		}
	}

	stats.Files = len(files)
	stats.Bytes = written.Load()
	e.logger.Debug("checkout finished",
		slog.String("root", root.String()), slog.Int("files", stats.Files), slog.Int("dirs", stats.Directories))
	return stats, nil
}

func (e *Exporter) restoreGroup(ctx context.Context, group []fileTask, onRestore RestoreCallback) (int64, error) {
	digests := make([]types.Digest, 0, len(group))
	for _, f := range group {
		digests = append(digests, f.digest)
	}
	blobs, err := e.src.ReadBlobs(ctx, digests)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, f := range group {
		data, ok := blobs[f.digest]
		if !ok {
			return n, fmt.Errorf("blob %s for %s not returned", f.digest, f.path)
		}
		// 服务端返回的数据也要校验，不信任传输链路
		if actual := core.ComputeDigest(data); actual != f.digest {
			return n, fmt.Errorf("integrity check failed for %s: expected %s, got %s", f.path, f.digest, actual)
		}

		perm := os.FileMode(0644)
		if f.executable {
			perm = 0755
		}
		if err := os.WriteFile(f.path, data, perm); err != nil {
			return n, fmt.Errorf("failed to write %s: %w", f.path, err)
		}
		// WriteFile 不会修改已存在文件的权限
		if err := os.Chmod(f.path, perm); err != nil {
			return n, err
		}
		n += int64(len(data))

		if onRestore != nil {
			onRestore(f.path, f.digest)
		}
	}
	return n, nil
}

// safeJoin 拒绝会逃出目标目录的条目名
func safeJoin(dir, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid entry name %q", name)
	}
	return filepath.Join(dir, name), nil
}

// checkUniqueNames 要求同一目录下文件、子目录、符号链接的名字互不相同
func checkUniqueNames(dir *remoteexecution.Directory) error {
	seen := make(map[string]struct{}, len(dir.GetFiles())+len(dir.GetDirectories())+len(dir.GetSymlinks()))
	add := func(name string) error {
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate entry name %q", name)
		}
		seen[name] = struct{}{}
		return nil
	}
	for _, f := range dir.GetFiles() {
		if err := add(f.GetName()); err != nil {
			return err
		}
	}
	for _, sub := range dir.GetDirectories() {
		if err := add(sub.GetName()); err != nil {
			return err
		}
	}
	for _, l := range dir.GetSymlinks() {
		if err := add(l.GetName()); err != nil {
			return err
		}
	}
	return nil
}

// clearSymlink 删除 path 上已存在的符号链接，其它类型的文件不动
func clearSymlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove stale symlink %s: %w", path, err)
	}
	return nil
}
