package cart

import "errors"

var (
	ErrCartNotFound        = errors.New("cart: cart not found")
	ErrDiscountNotFound    = errors.New("cart: discount not found")
	ErrInvalidDiscountType = errors.New("cart: invalid discount type")
)
