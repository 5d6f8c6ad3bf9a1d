package controllers

import (
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/utils"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// Headers set by the fronting authentication layer.
const (
	HeaderPrincipalID    = "X-Principal-Id"
	HeaderPrincipalEmail = "X-Principal-Email"
	HeaderPrincipalRole  = "X-Principal-Role"
)

var v = validator.New()

// principalFrom extracts the principal making a request. Requests without a role are treated as client requests. Any
// username suffix is removed from the principal ID.
func principalFrom(ctx echo.Context) (model.Principal, error) {
	header := ctx.Request().Header
	p := model.Principal{
		ID:    utils.RemoveUsernameSuffix(header.Get(HeaderPrincipalID)),
		Email: header.Get(HeaderPrincipalEmail),
		Role:  header.Get(HeaderPrincipalRole),
	}

	if p.ID == "" {
		return p, ErrMissingPrincipal
	}
	if p.Role == "" {
		p.Role = model.RoleClient
	}
	if err := v.Var(p.Role, "oneof=client readonly admin"); err != nil {
		return p, errors.Wrap(ErrInvalidPrincipal, "unsupported role")
	}
	if p.Email != "" {
		if err := v.Var(p.Email, "email"); err != nil {
			return p, errors.Wrap(ErrInvalidPrincipal, "invalid email address")
		}
	}
	return p, nil
}
