package model

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrFriendshipExists = errors.New("friendship already exists or is pending")
	ErrSelfFriendship   = errors.New("cannot befriend yourself")
	ErrNotRequestTarget = errors.New("only the request target may accept it")
	ErrInvalidUsername  = errors.New("invalid username")
	ErrEmptyMessage     = errors.New("message content is empty")
)
