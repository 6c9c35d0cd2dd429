package server

import "errors"

var (
	ErrServer   = errors.New("server error")
	ErrProtocol = errors.New("protocol error")
	ErrRequest  = errors.New("invalid request")
	ErrDaemon   = errors.New("daemon returned an error")
)
