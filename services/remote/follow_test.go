// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/publish/publishtest"
)

func TestFollower_Poll(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	f := NewFollower(env.server.URL, env.svc, time.Second, nil)

	c, changed, err := f.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, c.IsNull(), "nothing published yet")
	assert.False(t, changed)

	info := publishtest.Generate("sol", 1, 2)
	a := env.primary.Publish(t, info)
	env.assets.SetCurrent(a)

	c, changed, err = f.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.True(t, changed)
	require.NotNil(t, env.svc.Primary())
	assert.Equal(t, a, env.svc.Primary().Checksum())

	_, changed, err = f.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	b := env.primary.Publish(t, publishtest.WithText(info, "p0", "p0/d0.go", "package p0 // b"))
	env.assets.SetCurrent(b)
	_, changed, err = f.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, b, env.svc.Primary().Checksum())
}

func TestFollower_PrimaryDown(t *testing.T) {
	env := setupTestEnv(t)
	env.server.Close()

	f := NewFollower(env.server.URL, env.svc, time.Second, nil)
	_, _, err := f.Poll(context.Background())
	assert.ErrorIs(t, err, asset.ErrUnavailable)
}

func TestFollower_RunStopsOnCancel(t *testing.T) {
	env := setupTestEnv(t)
	a := env.primary.Publish(t, publishtest.Generate("sol", 1, 1))
	env.assets.SetCurrent(a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewFollower(env.server.URL, env.svc, 10*time.Millisecond, nil).Run(ctx) }()

	require.Eventually(t, func() bool {
		p := env.svc.Primary()
		return p != nil && p.Checksum() == a
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestFollower_BadResponse(t *testing.T) {
	env := setupTestEnv(t)
	mux := http.NewServeMux()
	mux.HandleFunc(CurrentPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"checksum":"zz"}`))
	})
	srv := newServer(t, mux)

	_, _, err := NewFollower(srv, env.svc, time.Second, nil).Poll(context.Background())
	assert.ErrorIs(t, err, checksum.ErrInvalidChecksum)
}

func newServer(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}
