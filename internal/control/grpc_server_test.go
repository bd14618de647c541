// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package control_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/holomush/gatehouse/internal/control"
	"github.com/holomush/gatehouse/pkg/errutil"
)

func TestNewServer_EmptyComponent(t *testing.T) {
	_, err := control.NewServer("")
	assert.Error(t, err)
}

func TestServer_AddrBeforeStart(t *testing.T) {
	s, err := control.NewServer("gatehouse")
	require.NoError(t, err)
	assert.Empty(t, s.Addr())
	assert.NoError(t, s.Stop(context.Background()))
}

func startServer(t *testing.T) (*control.Server, healthpb.HealthClient) {
	t.Helper()
	s, err := control.NewServer("gatehouse")
	require.NoError(t, err)

	errCh, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		<-errCh
	})

	conn, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_ReportsServingStatus(t *testing.T) {
	s, client := startServer(t)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, "gatehouse"))

	s.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, "gatehouse"))

	s.SetServing(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))
}

func TestServer_DoubleStart(t *testing.T) {
	s, _ := startServer(t)

	_, err := s.Start("127.0.0.1:0")
	errutil.AssertErrorCode(t, err, "CONTROL_ALREADY_RUNNING")
}

func TestServer_ListenFailure(t *testing.T) {
	s, err := control.NewServer("gatehouse")
	require.NoError(t, err)

	_, err = s.Start("256.0.0.1:0")
	errutil.AssertErrorCode(t, err, "CONTROL_LISTEN_FAILED")
}

func TestServer_StopEndsServe(t *testing.T) {
	s, err := control.NewServer("gatehouse")
	require.NoError(t, err)
	errCh, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background()))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after Stop")
	}
}
