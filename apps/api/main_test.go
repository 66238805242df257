package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didisacademy/academy/core/subscription"
	testutil "github.com/didisacademy/academy/tests"
)

func Test_dailyJob(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, env.UserRepo, "User", "awe", "awe@test.cd", "", nil, true)
	usr = testutil.SetLevel(t, env.UserRepo, usr, subscription.Premium, time.Now().Add(-50*time.Hour))
	testutil.CreateModule(t, env.ModuleSvc, "one", 1, subscription.Premium)
	testutil.CreateModule(t, env.ModuleSvc, "two", 2, subscription.Premium)

	job := dailyJob(env.UnlockSvc, 10)
	notified := func() (n int) {
		recs, err := env.UnlockSvc.UserUnlocks(ctx, usr.ID)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		for _, rec := range recs {
			if rec.Notified {
				n++
			}
		}
		return n
	}

	// notifications that failed during a pass are left to the next job
	env.Mailer.FailFor(usr.Email)
	require.NoError(t, job(ctx))
	assert.Equal(t, 0, notified())

	env.Mailer.Recover()
	require.NoError(t, job(ctx))
	assert.Equal(t, 2, notified())
	assert.Len(t, env.Mailer.SentTo(usr.Email), 2)
}
