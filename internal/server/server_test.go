package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hnrobert/lockr/internal/auth"
	"github.com/hnrobert/lockr/internal/config"
	"github.com/hnrobert/lockr/internal/invite"
	"github.com/hnrobert/lockr/internal/locker"
	"github.com/hnrobert/lockr/internal/logger"
)

const (
	masterSecret  = "0123456789abcdef-master"
	adminPassword = "operator-pw"
)

func TestMain(m *testing.M) {
	logger.SetLogger(zap.NewNop())
	goleak.VerifyTestMain(m)
}

type fixture struct {
	h       http.Handler
	locker  *locker.Locker
	invites *invite.Store
}

func newFixture(t *testing.T, mode config.RegistrationMode) *fixture {
	t.Helper()
	dir := t.TempDir()
	l, err := locker.Open(filepath.Join(dir, "credentials.json"))
	require.NoError(t, err)
	inv := invite.NewStore(filepath.Join(dir, "invites.json"))
	require.NoError(t, inv.Ensure())
	hash, err := auth.HashPassword(adminPassword)
	require.NoError(t, err)

	srv, err := New(Config{
		Secret:           masterSecret,
		JWTSecret:        []byte("jwt-secret-jwt-secret-jwt-secret"),
		TokenTTL:         time.Hour,
		AdminUser:        "admin",
		AdminHash:        hash,
		RegistrationMode: mode,
	}, l, inv)
	require.NoError(t, err)
	return &fixture{h: srv.Handler(), locker: l, invites: inv}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *fixture) login(t *testing.T, path, username, password string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, path, "", credentialsRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tok, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

func TestHealthzAndIndex(t *testing.T) {
	f := newFixture(t, config.RegistrationClosed)

	rec := f.do(t, http.MethodGet, "/api/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<table>")
	assert.Contains(t, rec.Body.String(), "<h1>lockr</h1>")

	rec = f.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)

	rec := f.do(t, http.MethodPost, "/api/register", "", credentialsRequest{Username: "alice", Password: "hunter2"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NoError(t, f.locker.Authenticate("alice", "hunter2", masterSecret))

	rec = f.do(t, http.MethodPost, "/api/register", "", credentialsRequest{Username: "alice", Password: "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/register", "", credentialsRequest{Username: "bob"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/login", "", credentialsRequest{Username: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid username or password.", decode(t, rec)["error"])

	tok := f.login(t, "/api/login", "alice", "hunter2")
	rec = f.do(t, http.MethodGet, "/api/me", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"username":"alice","admin":false}`, rec.Body.String())
}

func TestLoginSetsCookie(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)
	require.NoError(t, f.locker.RegisterAccount("alice", "hunter2", masterSecret))

	rec := f.do(t, http.MethodPost, "/api/login", "", credentialsRequest{Username: "alice", Password: "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.DefaultCookieName, cookies[0].Name)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookies[0])
	me := httptest.NewRecorder()
	f.h.ServeHTTP(me, req)
	assert.Equal(t, http.StatusOK, me.Code)

	stale := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	stale.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: "expired-junk"})
	stale.Header.Set("Authorization", "Bearer "+cookies[0].Value)
	me = httptest.NewRecorder()
	f.h.ServeHTTP(me, stale)
	assert.Equal(t, http.StatusOK, me.Code, "a bad cookie falls back to the bearer token")

	out := f.do(t, http.MethodPost, "/api/logout", cookies[0].Value, nil)
	require.Equal(t, http.StatusOK, out.Code)
	cleared := out.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Less(t, cleared[0].MaxAge, 0)
}

func TestRegistrationClosed(t *testing.T) {
	f := newFixture(t, config.RegistrationClosed)

	rec := f.do(t, http.MethodPost, "/api/register", "", credentialsRequest{Username: "alice", Password: "pw"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/register", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	admin := f.login(t, "/api/admin/login", "admin", adminPassword)
	rec = f.do(t, http.MethodPost, "/api/register", admin, credentialsRequest{Username: "alice", Password: "pw"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestInviteRegistration(t *testing.T) {
	f := newFixture(t, config.RegistrationInvite)

	rec := f.do(t, http.MethodPost, "/api/register", "", registerRequest{Username: "alice", Password: "pw"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/register", "", registerRequest{Username: "alice", Password: "pw", Invite: "bogus"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := f.login(t, "/api/admin/login", "admin", adminPassword)
	rec = f.do(t, http.MethodPost, "/api/invites/create", admin, inviteCreateRequest{MaxUses: 1, ExpiresIn: "1h"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	code, _ := decode(t, rec)["id"].(string)
	require.NotEmpty(t, code)

	rec = f.do(t, http.MethodPost, "/api/register", "", registerRequest{Username: "alice", Password: "pw", Invite: code})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NoError(t, f.locker.Authenticate("alice", "pw", masterSecret))

	rec = f.do(t, http.MethodPost, "/api/register", "", registerRequest{Username: "bob", Password: "pw", Invite: code})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, invite.ErrNoUsesLeft.Error(), decode(t, rec)["error"])

	list, err := f.invites.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Uses, 1)
	assert.Equal(t, "alice", list[0].Uses[0].UsedBy)
	assert.Equal(t, "admin", list[0].CreatedBy)
}

func TestFailedRegistrationKeepsInvite(t *testing.T) {
	f := newFixture(t, config.RegistrationInvite)
	require.NoError(t, f.locker.RegisterAccount("alice", "pw", masterSecret))
	inv, err := f.invites.Create("admin", 1, time.Time{})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/register", "", registerRequest{Username: "alice", Password: "again", Invite: inv.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/register", "", registerRequest{Username: "", Password: "pw", Invite: inv.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	got, err := f.invites.Validate(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UsedCount)

	rec = f.do(t, http.MethodPost, "/api/register", "", registerRequest{Username: "bob", Password: "pw", Invite: inv.ID})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestConcurrentInviteRegistration(t *testing.T) {
	f := newFixture(t, config.RegistrationInvite)
	inv, err := f.invites.Create("admin", 1, time.Time{})
	require.NoError(t, err)

	const n = 16
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := registerRequest{Username: fmt.Sprintf("user%02d", i), Password: "pw", Invite: inv.ID}
			codes <- f.do(t, http.MethodPost, "/api/register", "", body).Code
		}(i)
	}
	wg.Wait()
	close(codes)

	created := 0
	for code := range codes {
		if code == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusForbidden, code)
		}
	}
	assert.Equal(t, 1, created)
	names, err := f.locker.Accounts()
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestAdminInvites(t *testing.T) {
	f := newFixture(t, config.RegistrationInvite)
	admin := f.login(t, "/api/admin/login", "admin", adminPassword)

	rec := f.do(t, http.MethodGet, "/api/invites", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"invites":[]}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/invites/create", admin, inviteCreateRequest{ExpiresIn: "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/invites/create", admin, inviteCreateRequest{MaxUses: -2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/invites/create", admin, inviteCreateRequest{})
	require.Equal(t, http.StatusCreated, rec.Code)
	id, _ := decode(t, rec)["id"].(string)

	rec = f.do(t, http.MethodGet, "/api/invites", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	rec = f.do(t, http.MethodPost, "/api/invites/delete", admin, inviteIDRequest{ID: id})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/invites/delete", admin, inviteIDRequest{ID: id})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/register", admin, registerRequest{Username: "carol", Password: "pw"})
	assert.Equal(t, http.StatusCreated, rec.Code, "admins register without an invite")
}

func TestAdminLogin(t *testing.T) {
	f := newFixture(t, config.RegistrationClosed)

	rec := f.do(t, http.MethodPost, "/api/admin/login", "", credentialsRequest{Username: "admin", Password: "bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/admin/login", "", credentialsRequest{Username: "root", Password: adminPassword})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	admin := f.login(t, "/api/admin/login", "admin", adminPassword)
	rec = f.do(t, http.MethodGet, "/api/me", admin, nil)
	assert.JSONEq(t, `{"username":"admin","admin":true}`, rec.Body.String())
}

func TestAdminAccounts(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)
	require.NoError(t, f.locker.RegisterAccount("bob", "b", masterSecret))
	require.NoError(t, f.locker.RegisterAccount("alice", "a", masterSecret))

	rec := f.do(t, http.MethodGet, "/api/accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	user := f.login(t, "/api/login", "alice", "a")
	rec = f.do(t, http.MethodGet, "/api/accounts", user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := f.login(t, "/api/admin/login", "admin", adminPassword)
	rec = f.do(t, http.MethodGet, "/api/accounts", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accounts":["alice","bob"]}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/accounts/delete", admin, usernameRequest{Username: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/accounts/delete", admin, usernameRequest{Username: "bob"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	names, err := f.locker.Accounts()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, names)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)
	require.NoError(t, f.locker.RegisterAccount("alice", "old", masterSecret))
	tok := f.login(t, "/api/login", "alice", "old")

	rec := f.do(t, http.MethodPost, "/api/password", tok, passwordRequest{OldPassword: "wrong", NewPassword: "new"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/password", tok, passwordRequest{OldPassword: "old", NewPassword: "new"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, f.locker.Authenticate("alice", "new", masterSecret))
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)

	rec := f.do(t, http.MethodGet, "/api/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader("{"))
	bad := httptest.NewRecorder()
	f.h.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	rec = f.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "a", "password": "b", "extra": "c"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminLoginDisabledWithoutHash(t *testing.T) {
	l, err := locker.Open(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	srv, err := New(Config{Secret: masterSecret, JWTSecret: []byte("0123456789abcdef"), AdminUser: "admin"}, l, nil)
	require.NoError(t, err)
	f := &fixture{h: srv.Handler(), locker: l}

	rec := f.do(t, http.MethodPost, "/api/admin/login", "", credentialsRequest{Username: "admin", Password: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{JWTSecret: []byte("0123456789abcdef")}, nil, nil)
	assert.Error(t, err)

	l := locker.New()
	_, err = New(Config{}, l, nil)
	assert.ErrorIs(t, err, auth.ErrShortJWTSecret)
	_, err = New(Config{JWTSecret: []byte("too-short")}, l, nil)
	assert.ErrorIs(t, err, auth.ErrShortJWTSecret)

	_, err = New(Config{JWTSecret: []byte("0123456789abcdef"), RegistrationMode: config.RegistrationInvite}, l, nil)
	assert.Error(t, err)

	_, err = New(Config{JWTSecret: []byte("0123456789abcdef"), RegistrationMode: "sometimes"}, l, nil)
	assert.ErrorIs(t, err, config.ErrInvalidMode)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Secret = masterSecret
	sc, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Len(t, sc.JWTSecret, 32)
	assert.Equal(t, cfg.TokenTTL, sc.TokenTTL)

	cfg.JWTSecret = "session-signing-key"
	sc, err = FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []byte("session-signing-key"), sc.JWTSecret)

	cfg.JWTSecret = "fixed"
	_, err = FromConfig(cfg)
	assert.ErrorIs(t, err, auth.ErrShortJWTSecret)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, config.RegistrationClosed)
	srv := &Server{h: f.h}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/api/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	client.CloseIdleConnections()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	t.Cleanup(logger.SetLogger(zap.NewNop()))
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.VaultPath = filepath.Join(dir, "credentials.json")
	cfg.InvitesPath = filepath.Join(dir, "invites.json")
	cfg.LogDir = dir
	cfg.Secret = masterSecret
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.InvitesPath)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, logger.L().Core().Enabled(zapcore.InfoLevel), "requests must be logged while serving")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}

	_, err := os.Stat(cfg.VaultPath)
	assert.NoError(t, err)
	logs, err := os.ReadDir(filepath.Join(dir, "logs"))
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}

func TestRunRejectsBadVaultPath(t *testing.T) {
	t.Cleanup(logger.SetLogger(zap.NewNop()))
	cfg := config.Default()
	cfg.Secret = masterSecret
	cfg.VaultPath = ""
	assert.ErrorIs(t, Run(context.Background(), cfg), locker.ErrEmptyPath)
}
