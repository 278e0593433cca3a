package svc

import "errors"

var ErrNoFeedsEnabled = errors.New("no exchange feeds enabled")

var ErrStorageInitFailed = errors.New("storage initialization failed")
