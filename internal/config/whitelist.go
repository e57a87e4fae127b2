package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/pattern"
)

// TypeKey 包名 + 资源类型
type TypeKey struct {
	Package string
	Type    string
}

// WhiteList 不参与混淆的资源规则
type WhiteList struct {
	rules map[TypeKey]map[string]*pattern.Rule
}

// NewWhiteList 创建空白名单
func NewWhiteList() *WhiteList {
	return &WhiteList{rules: make(map[TypeKey]map[string]*pattern.Rule)}
}

// Add 添加规则, 格式 com.app.R.drawable.ic_*
func (w *WhiteList) Add(item string) error {
	item = strings.TrimSpace(item)
	if item == "" {
		return fmt.Errorf("%w: empty whitelist rule", domain.ErrInvalidRule)
	}

	name, err := splitResName(item)
	if err != nil {
		return fmt.Errorf("%w: please write the full package name, eg com.tencent.mm.R.drawable.dfdf, but yours %s: %v",
			domain.ErrInvalidRule, item, err)
	}

	rule, err := pattern.Compile(name.Name)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRule, err)
	}

	key := TypeKey{Package: name.Package, Type: name.Type}
	set, ok := w.rules[key]
	if !ok {
		set = make(map[string]*pattern.Rule)
		w.rules[key] = set
	}
	set[rule.String()] = rule
	return nil
}

// Rules 返回某个包下某类型的所有规则
func (w *WhiteList) Rules(pkg, typ string) []*pattern.Rule {
	set := w.rules[TypeKey{Package: pkg, Type: typ}]
	out := make([]*pattern.Rule, 0, len(set))
	for _, r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Matches 资源名是否命中白名单
func (w *WhiteList) Matches(pkg, typ, name string) bool {
	return pattern.MatchAny(w.Rules(pkg, typ), name)
}

// Len 规则总数
func (w *WhiteList) Len() int {
	n := 0
	for _, set := range w.rules {
		n += len(set)
	}
	return n
}
