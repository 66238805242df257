package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/didisacademy/academy/core/user"
)

// contextObjectKey holds the user an admin route acts on, as loaded by objectMiddleware.
const contextObjectKey = "object"

// adminMiddleware guards the admin API. Staff get through when they hold one of roles;
// an empty roles list admits every admin. Learners always get 403.
func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if !claims.IsAdmin || !hasAnyRole(claims.Roles, roles) {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

func hasAnyRole(held, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		for _, h := range held {
			if h == w {
				return true
			}
		}
	}
	return false
}

// objectMiddleware loads the learner named by the `:id` path param, so unlock and level
// handlers read it from the context instead of querying again.
func objectMiddleware(svc *user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding user by ID")
			}
			ctx.Set(contextObjectKey, usr)
			return next(ctx)
		}
	}
}
