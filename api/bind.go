package api

import (
	"errors"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"todoless/domain"
)

const maxBodySize = 1 << 20

// decodeBody strictly decodes the JSON request body into dst and validates it.
func (s *server) decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", domain.ErrInvalid)
		}
		return fmt.Errorf("%w: invalid body", domain.ErrInvalid)
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}
