package domain

import (
	"errors"
	"fmt"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindConfiguration ErrorKind = "configuration" // 配置错误, 构建开始前报告
	KindPrecondition  ErrorKind = "precondition"  // 阶段前置条件不满足
	KindPostcondition ErrorKind = "postcondition" // 阶段结束后预期产物不存在 (含外部工具失败)
	KindUnknown       ErrorKind = "unknown"
)

// 配置错误
var (
	ErrInvalidRule          = errors.New("invalid rule")
	ErrMissingSignatureFile = errors.New("signature file does not exist")
	ErrMissingMappingFile   = errors.New("old mapping file does not exist")
	ErrMalformedMapping     = errors.New("malformed mapping entry")
	ErrConfiguration        = errors.New("invalid configuration")
)

// 前置条件错误
var (
	ErrMissingIntermediate   = errors.New("missing apk unzip files")
	ErrMissingResourceDir    = errors.New("missing res files")
	ErrMissingResourceTable  = errors.New("missing resources.arsc file")
	ErrResourceCountMismatch = errors.New("resource file count mismatch")
	ErrMissingInputArchive   = errors.New("input apk to zipalign not found")
	ErrMissingSignedApk      = errors.New("signed apk not found")
	ErrNoSignedArtifact      = errors.New("no signed apk found")
	ErrNoSourceApk           = errors.New("no apk file to guard")
)

// 后置条件错误
var (
	ErrArchiveWrite             = errors.New("failed to write archive")
	ErrCompressionTableMismatch = errors.New("compression table references missing entries")
	ErrAssemblyVerification     = errors.New("unsigned apk not found after assembly")
	ErrSigningFailed            = errors.New("signed apk not found, is the sign data correct")
	ErrAlignmentFailed          = errors.New("aligned apk not found, is the zipalign path correct")
	ErrRepackageFailed          = errors.New("7zip repackage failed, install the 7z command line tool (linux: p7zip, windows: 7za)")
)

var kinds = []struct {
	kind ErrorKind
	errs []error
}{
	{KindConfiguration, []error{
		ErrInvalidRule, ErrMissingSignatureFile, ErrMissingMappingFile, ErrMalformedMapping, ErrConfiguration,
	}},
	{KindPrecondition, []error{
		ErrMissingIntermediate, ErrMissingResourceDir, ErrMissingResourceTable, ErrResourceCountMismatch,
		ErrMissingInputArchive, ErrMissingSignedApk, ErrNoSignedArtifact, ErrNoSourceApk,
	}},
	{KindPostcondition, []error{
		ErrArchiveWrite, ErrCompressionTableMismatch, ErrAssemblyVerification,
		ErrSigningFailed, ErrAlignmentFailed, ErrRepackageFailed,
	}},
}

// KindOf 返回错误所属分类
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindUnknown
}

// StageError 构建阶段失败
type StageError struct {
	Stage Stage
	Path  string // 预期产物或缺失输入的路径
	Err   error
}

func (e *StageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v, path=%s", e.Stage, e.Err, e.Path)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError 创建阶段错误
func NewStageError(stage Stage, path string, err error) error {
	return &StageError{Stage: stage, Path: path, Err: err}
}
