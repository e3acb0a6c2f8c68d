package ignore

import (
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName 是用户自定义忽略规则所在的文件 (语法同 .gitignore)
const FileName = ".casignore"

// 强制生效的规则，用户文件无法覆盖
var defaultRules = []string{
	// 本地数据目录，否则 push 会把自己的存储再上传一遍
	".casvault",
	".git",

	// 防止 S3 / Redis 凭据泄露
	"config.yaml",
	".env",

	".DS_Store",
	"Thumbs.db",
}

// Matcher 判断一个路径在 push 时是否应该跳过
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher rootPath: 要上传的目录 (在这里查找 .casignore)
func NewMatcher(rootPath string) (*Matcher, error) {
	ignoreFilePath := filepath.Join(rootPath, FileName)

	if _, err := os.Stat(ignoreFilePath); err != nil {
		return &Matcher{ignorer: gitignore.CompileIgnoreLines(defaultRules...)}, nil
	}

	// 文件内容和默认规则合并编译
	ignorer, err := gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
	if err != nil {
		return nil, err
	}
	return &Matcher{ignorer: ignorer}, nil
}

// Matches path 是相对 rootPath 的 "/" 分隔路径 (例如 "data/model.bin")
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(path)
}
