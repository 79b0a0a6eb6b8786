package utils

import (
	"errors"
)

const DefaultBufferSize = 1024 * 256 // 256KB read buffer per chunk worker
const DefaultSocketBuffer = 1024 * 1024
const ToolUserAgent = "keeper/dev"
const TempDirName = ".keeper-temp"
const StateFileName = "downloads.json"
const ConfigFileName = "config.yaml"

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotFound         = errors.New("download not found")
	ErrInvalidState     = errors.New("operation not valid in current state")
	ErrNetworkTransient = errors.New("transient network failure")
	ErrServerRejected   = errors.New("server rejected request")
	ErrCorruptState     = errors.New("persisted state is corrupt")
)

var ErrRangeRequestsNotSupported = errors.New("range requests are not supported")
