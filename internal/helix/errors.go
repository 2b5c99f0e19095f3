package helix

import "errors"

var (
	ErrRateLimited  = errors.New("rate limited by API")
	ErrUnauthorized = errors.New("token rejected by API")
	ErrNotFound     = errors.New("resource not found")
)
