package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/subscription"
	"github.com/didisacademy/academy/core/unlock"
	"github.com/didisacademy/academy/core/user"
)

type unlockApi struct {
	conf    *core.Config
	svc     *unlock.Service
	trigger Trigger
}

func registerUnlockAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *Server) {
	api := unlockApi{
		conf:    s.deps.Conf,
		svc:     s.deps.UnlockSvc,
		trigger: s.deps.Trigger,
	}

	ag := g.Group("/unlocks", jwt, adminMiddleware())
	ag.POST("/run", api.run)
	ag.POST("/retry-notifications", api.retryNotifications)

	ug := g.Group("/users/:id/unlocks", jwt, adminMiddleware(), objectMiddleware(s.deps.UserSvc))
	ug.GET("", api.list)
	ug.DELETE("", api.rollback, adminMiddleware(user.RoleAdminOwner))
}

type (
	RunResponse struct {
		Report unlock.Report `json:"report"`
	}

	RollbackResponse struct {
		Deleted int `json:"deleted"`
	}
)

// exclusive runs job under the scheduler's lock, so it never overlaps a scheduled pass.
func (api *unlockApi) exclusive(ctx echo.Context, job func(c context.Context) error) error {
	if api.trigger == nil {
		return job(ctx.Request().Context())
	}
	return api.trigger.Do(ctx.Request().Context(), job)
}

// run runs an unlock pass now and waits for it.
func (api *unlockApi) run(ctx echo.Context) error {
	var rep unlock.Report
	err := api.exclusive(ctx, func(c context.Context) error {
		var err error
		rep, err = api.svc.RunPass(c)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "running unlock pass")
	}
	return ctx.JSON(http.StatusOK, RunResponse{Report: rep})
}

// retryNotifications resends pending notifications once no pass is running.
func (api *unlockApi) retryNotifications(ctx echo.Context) error {
	limit, err := queryInt(ctx, "limit", 0)
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = int64(api.conf.Notify.RetryBatchSize)
	}

	var rep unlock.Report
	err = api.exclusive(ctx, func(c context.Context) error {
		var err error
		rep, err = api.svc.RetryNotifications(c, nowFunc().UTC(), int(limit))
		return err
	})
	if err != nil {
		return errors.Wrap(err, "retrying notifications")
	}
	return ctx.JSON(http.StatusOK, RunResponse{Report: rep})
}

func (api *unlockApi) list(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}
	recs, err := api.svc.UserUnlocks(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "listing unlocks")
	}
	if recs == nil {
		recs = []unlock.Record{}
	}
	return ctx.JSON(http.StatusOK, recs)
}

func (api *unlockApi) rollback(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}
	moduleID, err := queryInt(ctx, "module", 0)
	if err != nil {
		return err
	}

	filter := unlock.RollbackFilter{UserID: usr.ID, ModuleID: moduleID}
	if level := ctx.QueryParam("level"); level != "" {
		lvl, err := subscription.ParseLevel(level)
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "level", Error: err.Error()})
		}
		filter.Level = lvl
	}

	n, err := api.svc.Rollback(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "rolling back unlocks")
	}
	return ctx.JSON(http.StatusOK, RollbackResponse{Deleted: n})
}
