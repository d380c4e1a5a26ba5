package domain

import "errors"

var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidDish     = errors.New("invalid dish")
	ErrEmptyCart       = errors.New("cart is empty")
	ErrNotAMember      = errors.New("not a member of the group")
	ErrForbidden       = errors.New("only the pusher may delete this push")
	ErrNotFound        = errors.New("push not found")
	ErrUnknownDish     = errors.New("unknown dish")
	ErrUnauthorized    = errors.New("unauthorized")
)
