package errorx

import "errors"

var (
	ErrAcceptSocket   = errors.New("accept socket failed")
	ErrEngineShutdown = errors.New("engine shutdown")
	ErrNoListeners    = errors.New("no listen address configured")
	ErrConnClosed     = errors.New("connection closed")
	ErrSocket         = errors.New("socket error")
)
