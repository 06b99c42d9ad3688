package services

import "errors"

var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrSessionBusy         = errors.New("session is processing another request")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds maximum allowed size")
	ErrUnknownSection      = errors.New("unknown section")
)
