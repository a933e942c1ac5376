package authcache

import (
	"context"
	"testing"
	"time"

	"github.com/giantswarm/authcache/cache"
	"github.com/giantswarm/authcache/internal/testutil"
	"github.com/giantswarm/authcache/wire"
)

func testDeviceResult(clock *testutil.Clock) *wire.DeviceCodeResult {
	return &wire.DeviceCodeResult{
		UserCode:        "ABCD-1234",
		DeviceCode:      "device-code-1",
		VerificationURI: "https://login.example.com/device",
		Message:         "Visit https://login.example.com/device and enter ABCD-1234",
		ExpiresAt:       clock.Now().Add(15 * time.Minute),
		Interval:        time.Millisecond,
	}
}

func TestDeviceFlowPollsUntilSuccess(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	exch := testutil.NewExchanger()
	exch.Device = testDeviceResult(clock)
	exch.Queue(testutil.MethodDeviceCode, testutil.ErrorResponse(wire.ErrorAuthorizationPending, "user has not signed in yet"), nil)
	exch.Queue(testutil.MethodDeviceCode, testutil.ErrorResponse(wire.ErrorAuthorizationPending, "user has not signed in yet"), nil)
	exch.Queue(testutil.MethodDeviceCode,
		testutil.SuccessResponse("at-device", "rt-device", "user.read openid profile offline_access", "uid1", "utid1", "ada@example.com"), nil)

	client, store := newTestClient(t, exch, clock)

	flow, err := client.AcquireTokenByDeviceCode(context.Background(), []string{"User.Read"})
	if err != nil {
		t.Fatalf("AcquireTokenByDeviceCode: %v", err)
	}
	if got := flow.Result().UserCode; got != "ABCD-1234" {
		t.Fatalf("user code = %q", got)
	}

	resp, err := flow.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if !resp.Succeeded() || resp.AccessToken != "at-device" {
		t.Fatalf("response = %+v, want at-device", resp)
	}

	if calls := exch.CallsTo(testutil.MethodDeviceCode); len(calls) != 3 {
		t.Fatalf("polls = %d, want 3", len(calls))
	}
	ats := store.FindAccessTokens(context.Background(), cache.Query{}, nil, "")
	if len(ats) != 1 || ats[0].Secret != "at-device" {
		t.Fatalf("cached tokens = %+v, want at-device", ats)
	}
}

func TestDeviceFlowTerminalProtocolError(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	exch := testutil.NewExchanger()
	exch.Device = testDeviceResult(clock)
	exch.Queue(testutil.MethodDeviceCode, testutil.ErrorResponse("authorization_declined", "user declined"), nil)

	client, _ := newTestClient(t, exch, clock)

	flow, err := client.AcquireTokenByDeviceCode(context.Background(), []string{"User.Read"})
	if err != nil {
		t.Fatalf("AcquireTokenByDeviceCode: %v", err)
	}
	resp, err := flow.Token(context.Background())
	if err != nil {
		t.Fatalf("terminal protocol error must be a value: %v", err)
	}
	if resp.Error != "authorization_declined" {
		t.Fatalf("response = %+v, want authorization_declined", resp)
	}
	if calls := exch.CallsTo(testutil.MethodDeviceCode); len(calls) != 1 {
		t.Fatalf("polls = %d, want 1", len(calls))
	}
}

func TestDeviceFlowExpiredCode(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	exch := testutil.NewExchanger()
	exch.Device = testDeviceResult(clock)

	client, _ := newTestClient(t, exch, clock)

	flow, err := client.AcquireTokenByDeviceCode(context.Background(), []string{"User.Read"})
	if err != nil {
		t.Fatalf("AcquireTokenByDeviceCode: %v", err)
	}

	clock.Advance(16 * time.Minute)

	resp, err := flow.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if resp.Error != wire.ErrorExpiredToken {
		t.Fatalf("response = %+v, want expired_token", resp)
	}
	if calls := exch.CallsTo(testutil.MethodDeviceCode); len(calls) != 0 {
		t.Fatalf("expired flow must not poll, got %d calls", len(calls))
	}
}

func TestDeviceFlowCancel(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	exch := testutil.NewExchanger()
	exch.Device = testDeviceResult(clock)

	client, _ := newTestClient(t, exch, clock)

	flow, err := client.AcquireTokenByDeviceCode(context.Background(), []string{"User.Read"})
	if err != nil {
		t.Fatalf("AcquireTokenByDeviceCode: %v", err)
	}
	flow.Cancel()

	resp, err := flow.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if resp.Error != wire.ErrorExpiredToken {
		t.Fatalf("response = %+v, want expired_token after cancel", resp)
	}
}

func TestDeviceFlowHonorsContext(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	exch := testutil.NewExchanger()
	exch.Device = testDeviceResult(clock)

	client, _ := newTestClient(t, exch, clock)

	flow, err := client.AcquireTokenByDeviceCode(context.Background(), []string{"User.Read"})
	if err != nil {
		t.Fatalf("AcquireTokenByDeviceCode: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := flow.Token(ctx); err == nil {
		t.Fatal("expected a context error")
	}
}
