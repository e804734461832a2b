package ipc

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/jolt/internal/errors"
	"codeberg.org/mutker/jolt/internal/logger"
	"codeberg.org/mutker/jolt/internal/sample"
	"codeberg.org/mutker/jolt/internal/sensor"
	"codeberg.org/mutker/jolt/internal/store"
)

func testStatus() Status {
	return Status{
		Running:             true,
		Version:             "test",
		ProtocolVersion:     ProtocolVersion,
		MinSupportedVersion: MinSupportedVersion,
	}
}

// socketDir keeps paths short; unix socket paths have a hard limit.
func socketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "jolt")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "history.db")}, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	socket := filepath.Join(socketDir(t), "jolt.sock")
	server := NewServer(socket, st, testStatus, nil, logger.Default())
	require.NoError(t, server.Start())
	t.Cleanup(func() { server.Close() })

	return server, socket
}

func ptr(v float64) *float64 { return &v }

func TestRequestRoundTrip(t *testing.T) {
	req := Request{V: 2, Kind: KindGetRecentSamples, Limit: 10}
	line, err := encodeRequest(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2,"kind":"GetRecentSamples","limit":10}`, string(line))

	decoded, err := DecodeRequest(line)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestDecodeRequestRejectsGarbage(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"v":2}`))
	require.Error(t, err)

	_, err = DecodeRequest([]byte(`not json`))
	require.Error(t, err)
}

func TestStatusRequest(t *testing.T) {
	_, socket := startTestServer(t)

	client, err := Dial(socket)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(Request{Kind: KindGetStatus})
	require.NoError(t, err)
	require.Equal(t, KindStatus, resp.Kind)
	require.NotNil(t, resp.Status)
	assert.True(t, resp.Status.Running)
	assert.Equal(t, ProtocolVersion, resp.Status.ProtocolVersion)
}

func TestRecentSamplesRequest(t *testing.T) {
	server, socket := startTestServer(t)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, server.store.InsertSample(sample.Sample{
			TakenAt:       i * 1000,
			ChargePercent: 50,
			State:         sensor.StateDischarging,
			SystemW:       ptr(10),
		}))
	}

	client, err := Dial(socket)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(Request{Kind: KindGetRecentSamples, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, KindSamples, resp.Kind)
	require.Len(t, resp.Samples, 2)
	assert.EqualValues(t, 3000, resp.Samples[0].TakenAt)
	assert.Equal(t, sensor.StateDischarging, resp.Samples[0].State)
}

func TestDailyCyclesRequest(t *testing.T) {
	server, socket := startTestServer(t)

	day := time.Now().Local().Format("2006-01-02")
	require.NoError(t, server.store.UpsertDailyCycle(store.DailyCycle{
		Day:            day,
		ChargeSessions: 2,
		ChargingMins:   90,
		DischargeMins:  340,
		PartialCycles:  0.4,
	}))

	client, err := Dial(socket)
	require.NoError(t, err)
	defer client.Close()

	now := time.Now().UnixMilli()
	resp, err := client.Call(Request{
		Kind: KindGetDailyCycles,
		From: now - 86_400_000,
		To:   now,
	})
	require.NoError(t, err)
	require.Equal(t, KindDailyCycles, resp.Kind)
	require.Len(t, resp.Cycles, 1)
	assert.Equal(t, 2, resp.Cycles[0].ChargeSessions)
	assert.Equal(t, 90, resp.Cycles[0].ChargingMins)
	assert.Equal(t, 340, resp.Cycles[0].DischargeMins)
	assert.InDelta(t, 0.4, resp.Cycles[0].PartialCycles, 0.001)
}

func TestOldProtocolVersionRejected(t *testing.T) {
	_, socket := startTestServer(t)

	client, err := Dial(socket)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(Request{V: -1, Kind: KindGetStatus})
	require.NoError(t, err)
	require.Equal(t, KindError, resp.Kind)
	assert.Equal(t, string(errors.ErrProtocolVersion), resp.Code)

	// The server closes the connection afterwards.
	_, err = client.Next()
	require.Error(t, err)
}

func TestResponsesInRequestOrder(t *testing.T) {
	_, socket := startTestServer(t)

	client, err := Dial(socket)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send(Request{Kind: KindGetStatus}))
	require.NoError(t, client.Send(Request{Kind: KindGetRecentSamples, Limit: 1}))
	require.NoError(t, client.Send(Request{Kind: KindGetStatus}))

	kinds := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := client.Next()
		require.NoError(t, err)
		kinds = append(kinds, resp.Kind)
	}
	assert.Equal(t, []string{KindStatus, KindSamples, KindStatus}, kinds)
}

func TestSubscriptionDeliversInOrder(t *testing.T) {
	server, socket := startTestServer(t)

	client, err := Dial(socket)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Subscribe())
	assert.Equal(t, 1, server.SubscriberCount())

	var wg sync.WaitGroup
	wg.Add(1)
	received := make([]int64, 0, 50)
	go func() {
		defer wg.Done()
		for len(received) < 50 {
			resp, err := client.Next()
			if err != nil {
				return
			}
			if resp.Kind == KindSampleEvent {
				received = append(received, resp.Sample.TakenAt)
			}
		}
	}()

	for i := int64(1); i <= 50; i++ {
		server.Broadcast(sample.Sample{TakenAt: i * 1000, State: sensor.StateDischarging})
	}

	wg.Wait()
	require.Len(t, received, 50)
	for i := 1; i < len(received); i++ {
		assert.Greater(t, received[i], received[i-1], "taken_at strictly increasing")
	}
}

func TestLaggingSubscriberDropped(t *testing.T) {
	oldTimeout := writeTimeout
	writeTimeout = 100 * time.Millisecond
	defer func() { writeTimeout = oldTimeout }()

	server, socket := startTestServer(t)

	slow, err := Dial(socket)
	require.NoError(t, err)
	defer slow.Close()
	require.NoError(t, slow.Subscribe())

	fast, err := Dial(socket)
	require.NoError(t, err)
	defer fast.Close()
	require.NoError(t, fast.Subscribe())

	const total = 5000

	var wg sync.WaitGroup
	wg.Add(1)
	fastReceived := make([]int64, 0, total)
	go func() {
		defer wg.Done()
		for len(fastReceived) < total {
			resp, err := fast.Next()
			if err != nil {
				return
			}
			if resp.Kind == KindSampleEvent {
				fastReceived = append(fastReceived, resp.Sample.TakenAt)
			}
		}
	}()

	// The slow subscriber reads nothing while events pour out.
	for i := int64(1); i <= total; i++ {
		server.Broadcast(sample.Sample{TakenAt: i, State: sensor.StateDischarging})
		if i%50 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	wg.Wait()
	require.Len(t, fastReceived, total, "fast subscriber sees every event")
	for i := 1; i < len(fastReceived); i++ {
		require.Greater(t, fastReceived[i], fastReceived[i-1])
	}

	// The slow connection was dropped: it sees some prefix of events,
	// at most one lagging error, then EOF.
	laggingErrors := 0
	slowEvents := 0
	for {
		resp, err := slow.Next()
		if err != nil {
			break
		}
		switch resp.Kind {
		case KindSampleEvent:
			slowEvents++
		case KindError:
			assert.Equal(t, string(errors.ErrLagging), resp.Code)
			laggingErrors++
		}
	}
	assert.Less(t, slowEvents, total, "slow subscriber missed events")
	assert.LessOrEqual(t, laggingErrors, 1)

	assert.Eventually(t, func() bool {
		return server.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecentThenSubscribePrefix(t *testing.T) {
	server, socket := startTestServer(t)

	require.NoError(t, server.store.InsertSample(sample.Sample{TakenAt: 1000, State: sensor.StateDischarging}))
	require.NoError(t, server.store.InsertSample(sample.Sample{TakenAt: 2000, State: sensor.StateDischarging}))

	client, err := Dial(socket)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Subscribe())

	resp, err := client.Call(Request{Kind: KindGetRecentSamples, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, KindSamples, resp.Kind)
	newest := resp.Samples[0].TakenAt

	require.NoError(t, server.store.InsertSample(sample.Sample{TakenAt: 3000, State: sensor.StateDischarging}))
	server.Broadcast(sample.Sample{TakenAt: 3000, State: sensor.StateDischarging})

	event, err := client.Next()
	require.NoError(t, err)
	require.Equal(t, KindSampleEvent, event.Kind)
	assert.Greater(t, event.Sample.TakenAt, newest, "no duplicates, no gaps")
}

func TestShutdownRequest(t *testing.T) {
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "history.db")}, logger.Default())
	require.NoError(t, err)
	defer st.Close()

	requested := make(chan struct{})
	socket := filepath.Join(socketDir(t), "jolt.sock")
	server := NewServer(socket, st, testStatus, func() { close(requested) }, logger.Default())
	require.NoError(t, server.Start())
	defer server.Close()

	client, err := Dial(socket)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(Request{Kind: KindShutdown})
	require.NoError(t, err)
	assert.Equal(t, KindOk, resp.Kind)

	select {
	case <-requested:
	case <-time.After(time.Second):
		t.Fatal("shutdown was not requested")
	}
}

func TestSocketMode(t *testing.T) {
	_, socket := startTestServer(t)

	info, err := os.Stat(socket)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(socketMode), info.Mode().Perm())
}
