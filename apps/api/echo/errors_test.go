package echoapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/unlock"
	testutil "github.com/didisacademy/academy/tests"
)

func Test_appHTTPErrorHandler(t *testing.T) {
	env := testutil.NewEnv(t)

	tests := []struct {
		name         string
		err          error
		wantCode     int
		wantShutdown bool
	}{
		{"schema out of date", errors.Wrap(core.NewShutdownError("database schema out of date"), "finding unlocks"), http.StatusInternalServerError, true},
		{"server error", errors.New("connection reset"), http.StatusInternalServerError, false},
		{"not found", errors.Wrap(module.ErrNotFound, "getting module"), http.StatusNotFound, false},
		{"run aborted", errors.Wrap(unlock.ErrRunAborted, "reading catalog"), http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var shutdown bool
			handle := newAppHTTPErrorHandler(env.Logs, env.Translator, func() { shutdown = true })

			e := echo.New()
			rec := httptest.NewRecorder()
			ctx := e.NewContext(httptest.NewRequest(http.MethodPost, "/v1/unlocks/run", nil), rec)
			handle(tt.err, ctx)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantShutdown, shutdown)
		})
	}
}
