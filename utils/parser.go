package utils

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/vitwit/payterm/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidateStruct runs the validator tags of v.
func ValidateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return &types.TerminalError{
			Code:    types.ErrInvalidRequest,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}
	return nil
}

// ValidateClientConfig applies struct tags and the per-family address rules.
func ValidateClientConfig(config *types.ClientConfig) error {
	if err := validate.Struct(config); err != nil {
		return &types.TerminalError{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	if err := config.Validate(); err != nil {
		return err
	}

	if err := ValidateAddress(config.Network.Family(), config.ContractAddress); err != nil {
		return &types.TerminalError{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("%s: %v", config.Network, err),
		}
	}

	return nil
}
