package config

import (
	"errors"
	"strings"
)

const resMarker = ".R."

var (
	errNoResMarker = errors.New("missing .R. marker")
	errNoResName   = errors.New("missing resource name after type")
)

// resName pkg.R.type.name 拆分结果
type resName struct {
	Package string
	Type    string
	Name    string
	offset  int // type 在原串中的起始位置
}

// splitResName 按第一个 ".R." 拆分, type 取到 ".R." 之后的第一个 "."
// 不能用最后一个 ".", name 本身可能包含 "."
func splitResName(s string) (resName, error) {
	packagePos := strings.Index(s, resMarker)
	if packagePos == -1 {
		return resName{}, errNoResMarker
	}
	offset := packagePos + len(resMarker)
	nextDot := indexFrom(s, ".", offset)
	if nextDot == -1 {
		return resName{}, errNoResName
	}
	return resName{
		Package: s[:packagePos],
		Type:    s[offset:nextDot],
		Name:    s[nextDot+1:],
		offset:  offset,
	}, nil
}

// indexFrom 从 from 开始查找 sub, 找不到或 from 越界时返回 -1
func indexFrom(s, sub string, from int) int {
	if from < 0 {
		from = 0
	}
	if from > len(s) {
		return -1
	}
	i := strings.Index(s[from:], sub)
	if i == -1 {
		return -1
	}
	return from + i
}
