package recipe

import "errors"

var (
	ErrInvalidRecipe = errors.New("invalid recipe")
	ErrNoConfig      = errors.New("recipe has no config file")
)
