package keycache

import "errors"

var (
	// ErrNotFound 目录中没有该收件人
	ErrNotFound = errors.New("recipient not found in directory")

	// ErrNoDirectory 未配置目录
	ErrNoDirectory = errors.New("no key directory configured")
)
