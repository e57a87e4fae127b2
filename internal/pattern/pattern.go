package pattern

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalidPattern 规则无法编译为正则表达式
var ErrInvalidPattern = errors.New("invalid pattern")

// wildcardReplacer 通配符转正则 (单次扫描, 替换结果不会被再次替换)
var wildcardReplacer = strings.NewReplacer(
	".", `\.`,
	"*", ".*",
	"?", ".?",
)

// Rule 编译后的通配符规则
type Rule struct {
	raw string
	re  *regexp.Regexp
}

// ToRegexp 将通配符规则转换为锚定的正则表达式文本
// 只处理 . * ? 三种字符, 其余正则元字符原样保留
func ToRegexp(raw string) string {
	return "^" + wildcardReplacer.Replace(raw) + "$"
}

// Compile 编译通配符规则
func Compile(raw string) (*Rule, error) {
	re, err := regexp.Compile(ToRegexp(raw))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, raw, err)
	}
	return &Rule{raw: raw, re: re}, nil
}

// MustCompile 编译失败时 panic, 仅用于常量规则
func MustCompile(raw string) *Rule {
	r, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// Match 判断完整字符串是否匹配
func (r *Rule) Match(s string) bool {
	return r.re.MatchString(s)
}

// String 返回原始规则文本
func (r *Rule) String() string {
	return r.raw
}

// MatchAny 任一规则匹配即返回 true
func MatchAny(rules []*Rule, s string) bool {
	for _, r := range rules {
		if r.Match(s) {
			return true
		}
	}
	return false
}

// SearchDir 在目录下查找文件名匹配 glob 的普通文件 (不递归, 跳过目录)
func SearchDir(dir, glob string) ([]string, error) {
	rule, err := Compile(glob)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var matched []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if rule.Match(entry.Name()) {
			matched = append(matched, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(matched)
	return matched, nil
}
