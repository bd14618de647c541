// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/auth/authtest"
	"github.com/holomush/gatehouse/internal/dialog"
	"github.com/holomush/gatehouse/internal/events"
	"github.com/holomush/gatehouse/internal/gate"
	"github.com/holomush/gatehouse/internal/messages"
	"github.com/holomush/gatehouse/internal/presence"
	"github.com/holomush/gatehouse/internal/proxy"
	"github.com/holomush/gatehouse/internal/proxy/proxytest"
	"github.com/holomush/gatehouse/internal/routing"
	"github.com/holomush/gatehouse/pkg/errutil"
)

const password = "hunter22"

type recordingTransport struct {
	mu   sync.Mutex
	sent []dialog.Request
}

func (r *recordingTransport) ProtocolVersion(p proxy.Player) int { return p.ProtocolVersion() }

func (r *recordingTransport) Send(_ context.Context, _ proxy.Player, req dialog.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, req)
	return nil
}

func (r *recordingTransport) last(t *testing.T) dialog.Request {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.sent, "no dialog was sent")
	return r.sent[len(r.sent)-1]
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
	pending  int
	dialogs  int
}

func (m *recordingMetrics) DialogSent(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialogs++
}

func (m *recordingMetrics) RouteResolved(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) SetPendingRoutes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = n
}

type harness struct {
	gate      *gate.Gate
	users     *authtest.MemoryUsers
	presence  *presence.Local
	transport *recordingTransport
	metrics   *recordingMetrics
	provider  auth.CryptoProvider
	wrong     []events.WrongPassword
	authed    []events.Authenticated
}

type options struct {
	rules   routing.Rules
	cfg     gate.Config
	exempt  gate.Exemption
	noRules bool
}

func defaultRules() routing.Rules {
	return routing.Rules{
		Lobby: []proxy.Backend{
			{Name: "lobby-1", Address: "lobby1:25565", Priority: 10},
			{Name: "lobby-2", Address: "lobby2:25565", Priority: 5},
		},
		Limbo:    []proxy.Backend{{Name: "limbo", Address: "limbo:25565"}},
		Fallback: true,
	}
}

func newHarness(t *testing.T, opts options) *harness {
	t.Helper()
	if !opts.noRules && opts.rules.Lobby == nil && opts.rules.Limbo == nil {
		opts.rules = defaultRules()
	}

	provider := auth.NewBcryptProvider(bcrypt.MinCost)
	verifier, err := auth.NewVerifier(auth.DefaultPasswordPolicy(), auth.AlgorithmBcrypt, provider)
	require.NoError(t, err)
	engine, err := routing.NewEngine(opts.rules)
	require.NoError(t, err)

	h := &harness{
		users:     authtest.NewMemoryUsers(),
		presence:  presence.NewLocal(),
		transport: &recordingTransport{},
		metrics:   &recordingMetrics{},
		provider:  provider,
	}
	bus := events.NewBus()
	bus.OnWrongPassword(func(e events.WrongPassword) { h.wrong = append(h.wrong, e) })
	bus.OnAuthenticated(func(e events.Authenticated) { h.authed = append(h.authed, e) })

	h.gate, err = gate.New(gate.Deps{
		Users:     h.users,
		Verifier:  verifier,
		Engine:    engine,
		Messages:  messages.MustDefault(),
		Transport: h.transport,
		Presence:  h.presence,
		Bus:       bus,
		Metrics:   h.metrics,
		Exempt:    opts.exempt,
	}, opts.cfg)
	require.NoError(t, err)
	return h
}

// join runs pre-login, post-login and the initial route for a player.
func (h *harness) join(t *testing.T, name string, protocol int, registered bool) (*proxytest.Player, *proxytest.Route) {
	t.Helper()
	ctx := context.Background()
	if registered {
		require.NoError(t, h.users.Create(ctx, authtest.Registered(name, password, h.provider)))
	}

	adm, err := h.gate.PreLogin(ctx, name)
	require.NoError(t, err)
	require.False(t, adm.Denied(), adm.DenyReason)

	player := proxytest.NewPlayer(name, protocol).WithID(adm.ID)
	require.NoError(t, h.gate.PostLogin(ctx, player))

	route := proxytest.NewRoute(player)
	h.gate.ChooseInitialServer(ctx, route)
	return player, route
}

func (h *harness) submit(t *testing.T, player proxy.Player, fields map[string]string) {
	t.Helper()
	h.gate.DialogResponse(context.Background(), player, dialog.Submitted{
		DialogID: h.transport.last(t).ID,
		Fields:   fields,
	})
}

func requireServer(t *testing.T, route *proxytest.Route, want string) {
	t.Helper()
	server, set := route.Server()
	require.True(t, set, "initial server was never set")
	if want == "" {
		assert.Nil(t, server)
		return
	}
	require.NotNil(t, server)
	assert.Equal(t, want, server.Name)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := gate.New(gate.Deps{}, gate.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user repository is required")
}

func TestPreLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid name is refused", func(t *testing.T) {
		h := newHarness(t, options{})
		adm, err := h.gate.PreLogin(ctx, "no spaces!")
		require.NoError(t, err)
		assert.True(t, adm.Denied())
		assert.Equal(t, messages.MustDefault().Get("kick-illegal-username"), adm.DenyReason)
	})

	t.Run("first connection creates an unregistered user", func(t *testing.T) {
		h := newHarness(t, options{})
		adm, err := h.gate.PreLogin(ctx, "Newbie")
		require.NoError(t, err)
		assert.False(t, adm.Denied())
		assert.False(t, adm.Registered)

		stored, err := h.users.GetByName(ctx, "newbie")
		require.NoError(t, err)
		assert.Equal(t, adm.ID, stored.ID)
	})

	t.Run("returning player keeps the stored identity", func(t *testing.T) {
		h := newHarness(t, options{})
		user := authtest.Registered("Steve", password, h.provider)
		require.NoError(t, h.users.Create(ctx, user))

		adm, err := h.gate.PreLogin(ctx, "steve")
		require.NoError(t, err)
		assert.Equal(t, user.ID, adm.ID)
		assert.Equal(t, "Steve", adm.Name)
		assert.True(t, adm.Registered)
	})

	t.Run("already online is refused", func(t *testing.T) {
		h := newHarness(t, options{})
		user := authtest.Registered("Steve", password, h.provider)
		require.NoError(t, h.users.Create(ctx, user))
		claimed, err := h.presence.Claim(ctx, user.ID)
		require.NoError(t, err)
		require.True(t, claimed)

		adm, err := h.gate.PreLogin(ctx, "Steve")
		require.NoError(t, err)
		assert.Equal(t, "You are already connected.", adm.DenyReason)
	})
}

// racingUsers hides the first name lookup, as if another node created the
// record between the lookup and the insert.
type racingUsers struct {
	*authtest.MemoryUsers
	hidden bool
}

func (r *racingUsers) GetByName(ctx context.Context, name string) (*auth.User, error) {
	if !r.hidden {
		r.hidden = true
		return nil, auth.ErrNotFound
	}
	return r.MemoryUsers.GetByName(ctx, name)
}

func TestPreLogin_CreateRaceUsesExistingRecord(t *testing.T) {
	ctx := context.Background()
	existing, err := auth.NewUser("Steve")
	require.NoError(t, err)
	users := &racingUsers{MemoryUsers: authtest.NewMemoryUsers(existing)}
	engine, err := routing.NewEngine(defaultRules())
	require.NoError(t, err)
	g, err := gate.New(gate.Deps{
		Users:     users,
		Verifier:  mustVerifier(t),
		Engine:    engine,
		Messages:  messages.MustDefault(),
		Transport: &recordingTransport{},
		Presence:  presence.NewLocal(),
	}, gate.Config{})
	require.NoError(t, err)

	adm, err := g.PreLogin(ctx, "steve")

	require.NoError(t, err)
	assert.Equal(t, existing.ID, adm.ID)
}

func mustVerifier(t *testing.T) *auth.Verifier {
	t.Helper()
	v, err := auth.NewVerifier(auth.DefaultPasswordPolicy(), auth.AlgorithmBcrypt, auth.NewBcryptProvider(bcrypt.MinCost))
	require.NoError(t, err)
	return v
}

func TestLegacyClientGoesToLimboWithoutPendingRoute(t *testing.T) {
	h := newHarness(t, options{cfg: gate.Config{MinProtocol: 771}})

	player, route := h.join(t, "oldtimer", 770, true)

	requireServer(t, route, "limbo")
	assert.Equal(t, 1, route.Resumed())
	assert.False(t, h.gate.Pending().Has(player.ID()))
	assert.Zero(t, h.transport.count())
	assert.Contains(t, player.Messages(), "Please log in using /login <password>")
}

func TestLegacyUnregisteredClientIsAskedToRegister(t *testing.T) {
	h := newHarness(t, options{})

	player, route := h.join(t, "newbie", 47, false)

	requireServer(t, route, "limbo")
	assert.Contains(t, player.Messages(), "Please register using /register <password> <password>")
}

func TestLoginResumesPendingRouteOnce(t *testing.T) {
	h := newHarness(t, options{})
	player, route := h.join(t, "steve", 771, true)

	assert.True(t, h.gate.Pending().Has(player.ID()))
	assert.Zero(t, route.Resumed(), "route waits for the dialog")

	h.submit(t, player, map[string]string{dialog.FieldPassword: password})

	assert.True(t, h.gate.Registry().IsAuthenticated(player.ID()))
	assert.False(t, h.gate.Pending().Has(player.ID()))
	requireServer(t, route, "lobby-1")
	assert.Equal(t, 1, route.Resumed())
	require.Len(t, h.authed, 1)
	assert.Equal(t, events.ReasonLogin, h.authed[0].Reason)

	stored, err := h.users.GetByID(context.Background(), player.ID())
	require.NoError(t, err)
	assert.NotNil(t, stored.LastAuthenticatedAt)

	// A second authorization, e.g. from a legacy command, changes nothing.
	h.gate.Authorize(context.Background(), stored, player, events.ReasonLogin)
	assert.Equal(t, 1, route.Resumed())
	assert.Len(t, h.authed, 1)
	assert.Empty(t, player.Connects())
}

func TestRegistrationResumesPendingRoute(t *testing.T) {
	h := newHarness(t, options{})
	player, route := h.join(t, "newbie", 771, false)
	assert.Equal(t, dialog.ModeRegister, h.transport.last(t).Mode)

	h.submit(t, player, map[string]string{
		dialog.FieldPassword:        "s3cret-pass",
		dialog.FieldConfirmPassword: "s3cret-pass",
	})

	requireServer(t, route, "lobby-1")
	require.Len(t, h.authed, 1)
	assert.Equal(t, events.ReasonRegister, h.authed[0].Reason)
}

func TestThreeWrongPasswords(t *testing.T) {
	h := newHarness(t, options{})
	player, route := h.join(t, "steve", 771, true)

	for range 3 {
		h.submit(t, player, map[string]string{dialog.FieldPassword: "nope-nope"})
	}

	assert.Len(t, h.wrong, 3)
	assert.Equal(t, 4, h.transport.count())
	assert.False(t, h.gate.Registry().IsAuthenticated(player.ID()))
	assert.Zero(t, route.Resumed())
	assert.Empty(t, player.Disconnects(), "no limit configured")
}

func TestAttemptLimitDisconnects(t *testing.T) {
	h := newHarness(t, options{cfg: gate.Config{MaxLoginAttempts: 2}})
	player, _ := h.join(t, "steve", 771, true)

	h.submit(t, player, map[string]string{dialog.FieldPassword: "nope-nope"})
	assert.Empty(t, player.Disconnects())

	h.submit(t, player, map[string]string{dialog.FieldPassword: "nope-nope"})
	assert.Equal(t, []string{"Too many wrong passwords."}, player.Disconnects())
}

func TestNoLobbyAvailable(t *testing.T) {
	h := newHarness(t, options{rules: routing.Rules{Limbo: []proxy.Backend{{Name: "limbo"}}}})
	player, route := h.join(t, "steve", 771, true)

	h.submit(t, player, map[string]string{dialog.FieldPassword: password})

	requireServer(t, route, "")
	assert.Equal(t, 1, route.Resumed())
	assert.Equal(t, []string{"There is no lobby server available."}, player.Disconnects())
}

func TestNoLimboAvailable(t *testing.T) {
	h := newHarness(t, options{noRules: true})
	player, route := h.join(t, "oldtimer", 5, true)

	requireServer(t, route, "")
	assert.Equal(t, []string{"There is no limbo server available."}, player.Disconnects())
}

func TestDisconnectWhileDialogOutstanding(t *testing.T) {
	h := newHarness(t, options{})
	player, route := h.join(t, "steve", 771, true)
	dialogID := h.transport.last(t).ID

	h.gate.Disconnect(context.Background(), player)
	h.gate.Disconnect(context.Background(), player)

	assert.False(t, h.gate.Pending().Has(player.ID()))
	assert.False(t, h.gate.Registry().Exists(player.ID()))
	online, _ := h.presence.IsOnline(context.Background(), player.ID())
	assert.False(t, online)

	h.gate.DialogResponse(context.Background(), player, dialog.Submitted{
		DialogID: dialogID,
		Fields:   map[string]string{dialog.FieldPassword: password},
	})
	assert.Zero(t, route.Resumed(), "a disconnected route is never resumed")
	assert.Empty(t, h.authed)
}

func TestDuplicateConnectionLeavesFirstAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})
	first, route := h.join(t, "steve", 771, true)

	adm, err := h.gate.PreLogin(ctx, "steve")
	require.NoError(t, err)
	assert.Equal(t, "You are already connected.", adm.DenyReason)

	// A host that ignores the refusal still cannot take over the identity.
	second := proxytest.NewPlayer("steve", 771).WithID(first.ID())
	errutil.AssertErrorCode(t, h.gate.PostLogin(ctx, second), "POSTLOGIN_DUPLICATE")
	h.gate.Disconnect(ctx, second)

	assert.True(t, h.gate.Pending().Has(first.ID()))
	assert.True(t, h.gate.Registry().Exists(first.ID()))
	online, err := h.presence.IsOnline(ctx, first.ID())
	require.NoError(t, err)
	assert.True(t, online)

	h.submit(t, first, map[string]string{dialog.FieldPassword: password})

	requireServer(t, route, "lobby-1")
	assert.Equal(t, 1, route.Resumed())
	assert.True(t, h.gate.Registry().IsAuthenticated(first.ID()))
	assert.Empty(t, first.Disconnects())
}

func TestConcurrentPreLoginAdmitsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	h := newHarness(t, options{})
	require.NoError(t, h.users.Create(ctx, authtest.Registered("steve", password, h.provider)))

	var admitted, denied atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, err := h.gate.PreLogin(ctx, "steve")
			if err != nil {
				return
			}
			if adm.Denied() {
				denied.Add(1)
			} else {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
	assert.Equal(t, int32(15), denied.Load())
}

func TestCancelDisconnects(t *testing.T) {
	h := newHarness(t, options{})
	player, route := h.join(t, "steve", 771, true)

	h.gate.DialogResponse(context.Background(), player, dialog.Cancelled{DialogID: h.transport.last(t).ID})

	assert.Equal(t, []string{"You closed the login dialog."}, player.Disconnects())
	assert.False(t, h.gate.Pending().Has(player.ID()))
	assert.Zero(t, route.Resumed())
}

func TestExemptPlayerSkipsDialog(t *testing.T) {
	h := newHarness(t, options{exempt: func(u *auth.User, _ proxy.Player) bool {
		return u.Name == "trusted"
	}})

	player, route := h.join(t, "trusted", 771, true)

	requireServer(t, route, "lobby-1")
	assert.Zero(t, h.transport.count())
	assert.True(t, h.gate.Registry().IsAuthenticated(player.ID()))
}

func TestAuthorizeWithoutPendingRouteTransfers(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := newHarness(t, options{})
		player, _ := h.join(t, "oldtimer", 47, true)
		player.SetCurrentBackend("limbo")
		user, err := h.users.GetByID(context.Background(), player.ID())
		require.NoError(t, err)

		h.gate.Authorize(context.Background(), user, player, events.ReasonLogin)

		require.Len(t, player.Connects(), 1)
		assert.Equal(t, "lobby-1", player.Connects()[0].Name)
		assert.Empty(t, player.Disconnects())
	})

	t.Run("failure disconnects with the host reason", func(t *testing.T) {
		h := newHarness(t, options{})
		player, _ := h.join(t, "oldtimer", 47, true)
		player.SetCurrentBackend("limbo")
		player.ConnectResult = proxy.ConnectResult{Reason: "server full"}
		user, err := h.users.GetByID(context.Background(), player.ID())
		require.NoError(t, err)

		h.gate.Authorize(context.Background(), user, player, events.ReasonLogin)

		assert.Equal(t, []string{"server full"}, player.Disconnects())
	})

	t.Run("failure while already on target is ignored", func(t *testing.T) {
		h := newHarness(t, options{})
		player, _ := h.join(t, "oldtimer", 47, true)
		player.SetCurrentBackend("lobby-1")
		player.ConnectResult = proxy.ConnectResult{Reason: "already connected"}
		user, err := h.users.GetByID(context.Background(), player.ID())
		require.NoError(t, err)

		h.gate.Authorize(context.Background(), user, player, events.ReasonLogin)

		assert.Empty(t, player.Disconnects())
	})
}

func TestKickRecovery(t *testing.T) {
	oneLobby := routing.Rules{
		Lobby:    []proxy.Backend{{Name: "lobby-1"}},
		Limbo:    []proxy.Backend{{Name: "limbo"}},
		Fallback: true,
	}

	authenticated := func(t *testing.T, h *harness) *proxytest.Player {
		t.Helper()
		player, _ := h.join(t, "steve", 771, true)
		h.submit(t, player, map[string]string{dialog.FieldPassword: password})
		require.True(t, h.gate.Registry().IsAuthenticated(player.ID()))
		player.SetCurrentBackend("survival")
		return player
	}

	t.Run("fallback redirects to the alternate lobby", func(t *testing.T) {
		h := newHarness(t, options{rules: oneLobby})
		player := authenticated(t, h)

		res := h.gate.Kicked(context.Background(), proxy.KickEvent{Player: player, Backend: "survival", Reason: "restarting"})

		assert.Equal(t, proxy.KickRedirect, res.Action)
		require.NotNil(t, res.Backend)
		assert.Equal(t, "lobby-1", res.Backend.Name)
		assert.Equal(t, "You were kicked: restarting", res.Message)
	})

	t.Run("fallback disabled disconnects with the kick notice", func(t *testing.T) {
		rules := oneLobby
		rules.Fallback = false
		h := newHarness(t, options{rules: rules})
		player := authenticated(t, h)

		res := h.gate.Kicked(context.Background(), proxy.KickEvent{Player: player, Backend: "survival", Reason: "restarting"})

		assert.Equal(t, proxy.KickDisconnect, res.Action)
		assert.Equal(t, "You were kicked: restarting", res.Message)
	})

	t.Run("kick from a lobby disconnects", func(t *testing.T) {
		h := newHarness(t, options{rules: oneLobby})
		player := authenticated(t, h)
		player.SetCurrentBackend("lobby-1")

		res := h.gate.Kicked(context.Background(), proxy.KickEvent{Player: player, Backend: "lobby-1", Reason: "banned"})

		assert.Equal(t, proxy.KickDisconnect, res.Action)
		assert.Equal(t, "You were kicked: banned", res.Message)
	})

	t.Run("no candidate left disconnects", func(t *testing.T) {
		h := newHarness(t, options{rules: oneLobby})
		player, _ := h.join(t, "oldtimer", 47, true)
		player.SetCurrentBackend("limbo")

		res := h.gate.Kicked(context.Background(), proxy.KickEvent{Player: player, Backend: "limbo", Reason: "limbo crashed"})

		assert.Equal(t, proxy.KickDisconnect, res.Action)
		assert.Equal(t, "You were kicked: limbo crashed", res.Message)
	})

	t.Run("kicking backend is skipped after the host detached the player", func(t *testing.T) {
		twoLimbos := routing.Rules{
			Lobby:    []proxy.Backend{{Name: "lobby-1"}},
			Limbo:    []proxy.Backend{{Name: "limbo-a"}, {Name: "limbo-b"}},
			Fallback: true,
		}
		h := newHarness(t, options{rules: twoLimbos})
		player, _ := h.join(t, "oldtimer", 47, true)

		res := h.gate.Kicked(context.Background(), proxy.KickEvent{Player: player, Backend: "limbo-a", Reason: "restarting"})

		assert.Equal(t, proxy.KickRedirect, res.Action)
		require.NotNil(t, res.Backend)
		assert.Equal(t, "limbo-b", res.Backend.Name)
	})

	t.Run("kick during connect only notifies", func(t *testing.T) {
		h := newHarness(t, options{rules: oneLobby})
		player := authenticated(t, h)

		res := h.gate.Kicked(context.Background(), proxy.KickEvent{Player: player, Backend: "survival", Reason: "whitelist", DuringConnect: true})

		assert.Equal(t, proxy.KickNotify, res.Action)
		assert.Equal(t, "You were kicked: whitelist", res.Message)
	})
}

func TestDialogTimeout(t *testing.T) {
	h := newHarness(t, options{cfg: gate.Config{DialogTimeout: 20 * time.Millisecond}})
	player, route := h.join(t, "steve", 771, true)

	assert.Zero(t, h.gate.SweepExpired(), "fresh routes are kept")

	require.Eventually(t, func() bool {
		return h.gate.SweepExpired() == 1
	}, time.Second, 10*time.Millisecond)

	requireServer(t, route, "")
	assert.Equal(t, 1, route.Resumed())
	assert.Equal(t, []string{"You took too long to log in."}, player.Disconnects())
	assert.False(t, h.gate.Registry().Exists(player.ID()))
}

func TestRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("without timeout waits for cancellation", func(t *testing.T) {
		h := newHarness(t, options{})
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- h.gate.Run(ctx) }()
		cancel()
		require.NoError(t, <-done)
	})

	t.Run("sweeps expired dialogs", func(t *testing.T) {
		h := newHarness(t, options{cfg: gate.Config{DialogTimeout: 50 * time.Millisecond}})
		player, route := h.join(t, "steve", 771, true)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- h.gate.Run(ctx) }()

		require.Eventually(t, func() bool { return route.Resumed() == 1 }, 2*time.Second, 10*time.Millisecond)
		cancel()
		require.NoError(t, <-done)
		assert.Len(t, player.Disconnects(), 1)
	})
}

func TestConcurrentAuthorizeResumesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, options{})
	player, route := h.join(t, "steve", 771, true)
	user, err := h.users.GetByID(context.Background(), player.ID())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := *user
			h.gate.Authorize(context.Background(), &u, player, events.ReasonLogin)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, route.Resumed())
	assert.Empty(t, player.Connects(), "losers must not start a transfer")
}

func TestMetricsObserveRouting(t *testing.T) {
	h := newHarness(t, options{})
	player, _ := h.join(t, "steve", 771, true)
	assert.Equal(t, 1, h.metrics.pending)

	h.submit(t, player, map[string]string{dialog.FieldPassword: password})

	assert.Equal(t, 0, h.metrics.pending)
	assert.Equal(t, []string{gate.OutcomeSuspended, gate.OutcomeLobby}, h.metrics.outcomes)
	assert.Equal(t, 1, h.metrics.dialogs)
}

func TestCommand(t *testing.T) {
	t.Run("login command transfers a legacy client", func(t *testing.T) {
		h := newHarness(t, options{})
		player, _ := h.join(t, "oldtimer", 47, true)
		player.SetCurrentBackend("limbo")

		assert.True(t, h.gate.Command(context.Background(), player, "/login "+password))

		assert.True(t, h.gate.Registry().IsAuthenticated(player.ID()))
		require.Len(t, player.Connects(), 1)
		assert.Equal(t, "lobby-1", player.Connects()[0].Name)
	})

	t.Run("register command", func(t *testing.T) {
		h := newHarness(t, options{})
		player, _ := h.join(t, "newbie", 47, false)

		assert.True(t, h.gate.Command(context.Background(), player, "/register s3cret-pass s3cret-pass"))

		require.Len(t, h.authed, 1)
		assert.Equal(t, events.ReasonRegister, h.authed[0].Reason)
	})

	t.Run("wrong password counts towards the limit", func(t *testing.T) {
		h := newHarness(t, options{cfg: gate.Config{MaxLoginAttempts: 1}})
		player, _ := h.join(t, "oldtimer", 47, true)

		assert.True(t, h.gate.Command(context.Background(), player, "/l nope-nope"))

		assert.Len(t, h.wrong, 1)
		assert.Equal(t, []string{"Too many wrong passwords."}, player.Disconnects())
	})

	t.Run("usage error prompts", func(t *testing.T) {
		h := newHarness(t, options{})
		player, _ := h.join(t, "newbie", 47, false)

		assert.True(t, h.gate.Command(context.Background(), player, "/register onlyone"))

		msgs := player.Messages()
		assert.Equal(t, "Please register using /register <password> <password>", msgs[len(msgs)-1])
	})

	t.Run("chat and unknown commands are not consumed", func(t *testing.T) {
		h := newHarness(t, options{})
		player, _ := h.join(t, "oldtimer", 47, true)

		assert.False(t, h.gate.Command(context.Background(), player, "hello"))
		assert.False(t, h.gate.Command(context.Background(), player, "/spawn"))
		assert.Empty(t, h.wrong)
	})
}
