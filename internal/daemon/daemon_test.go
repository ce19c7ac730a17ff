package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/nearby/internal/account"
	"github.com/matheus3301/nearby/internal/api"
	"github.com/matheus3301/nearby/internal/app"
	"github.com/matheus3301/nearby/internal/backend/memory"
	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/config"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/lock"
	"github.com/matheus3301/nearby/internal/store"
	"github.com/matheus3301/nearby/internal/tui/client"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// shortTempDir keeps socket paths under the 104-char Unix socket limit.
func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// startDaemon runs the gRPC server over a demo client and returns a
// connected client.
func startDaemon(t *testing.T) *client.Client {
	t.Helper()
	tmpDir := shortTempDir(t, "nearby-test-*")
	socketPath := filepath.Join(tmpDir, "d.sock")

	db, err := store.Open(filepath.Join(tmpDir, "nearby.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	cfg.Profile.ID = "me"
	cfg.Profile.Name = "Me"
	logger := zap.NewNop()
	a, err := app.New(cfg, db, bus.New(), logger, app.Options{Account: "test", Backend: memory.New()})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Stop)

	srv, err := NewServer(Params{AccountName: "test", SocketPath: socketPath}, logger, api.NewService(a, logger))
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if got := grpcstatus.Code(err); got != code {
		t.Errorf("code = %s (%v), want %s", got, err, code)
	}
}

func TestDaemonServesClient(t *testing.T) {
	c := startDaemon(t)
	ctx := context.Background()

	st, err := c.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if st.Account != "test" || st.Self != "me" || st.Connectivity != "ONLINE" {
		t.Errorf("status = %+v, want account test, self me, ONLINE", st)
	}
	if st.Permissions["bluetooth"] != "prompt" {
		t.Errorf("bluetooth permission = %q, want prompt", st.Permissions["bluetooth"])
	}

	msg, err := c.SendMessage(ctx, "sim-alex", "hello")
	if err != nil {
		t.Fatalf("SendMessage error = %v", err)
	}
	if msg.State != domain.MessageConfirmed || msg.Content != "hello" {
		t.Errorf("message = %+v, want confirmed hello", msg)
	}
	msgs, err := c.ListMessages(ctx, "sim-alex")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Errorf("messages = %+v, want the sent message", msgs)
	}

	conn, err := c.RequestConnection(ctx, "sim-sarah")
	if err != nil {
		t.Fatalf("RequestConnection error = %v", err)
	}
	if conn.Status != domain.ConnectionPending || conn.ToUserID != "sim-sarah" {
		t.Errorf("connection = %+v", conn)
	}
	_, err = c.RequestConnection(ctx, "sim-sarah")
	wantCode(t, err, codes.AlreadyExists)
	_, err = c.RespondConnection(ctx, conn.ID, true)
	wantCode(t, err, codes.PermissionDenied)

	profile, err := c.GetProfile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if profile.ID != "me" || !profile.IsOnline {
		t.Errorf("profile = %+v, want me online", profile)
	}
}

func TestDaemonMapsErrors(t *testing.T) {
	c := startDaemon(t)
	ctx := context.Background()

	_, err := c.RespondConnection(ctx, "nope", true)
	wantCode(t, err, codes.NotFound)
	_, err = c.SendMessage(ctx, "", "hi")
	wantCode(t, err, codes.InvalidArgument)
	_, err = c.ResetPermission(ctx, "radar")
	wantCode(t, err, codes.InvalidArgument)
	_, err = c.UpdateProfile(ctx, map[string]any{"tier": "premium"})
	wantCode(t, err, codes.InvalidArgument)
}

func TestDaemonOfflineQueue(t *testing.T) {
	c := startDaemon(t)
	ctx := context.Background()

	st, err := c.SetOnline(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if st.Connectivity != "OFFLINE" || !st.ForcedOffline {
		t.Fatalf("status = %+v, want forced OFFLINE", st)
	}
	msg, err := c.SendMessage(ctx, "sim-mike", "later")
	if err != nil {
		t.Fatal(err)
	}
	if msg.State != domain.MessageLocal {
		t.Errorf("state = %s, want local", msg.State)
	}
	actions, err := c.ListQueue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].Entity != domain.EntityMessage || actions[0].Operation != domain.OpCreate {
		t.Fatalf("queue = %+v, want one message create", actions)
	}
	res, err := c.Drain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Errorf("drain while offline = %+v, want skipped", res)
	}

	if _, err := c.SetOnline(ctx, true); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		st, err := c.GetStatus(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st.Pending == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue not drained: %+v", st)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWatchEvents(t *testing.T) {
	c := startDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.WatchEvents(ctx, "message.")
	if err != nil {
		t.Fatal(err)
	}
	// The stream is registered asynchronously; keep sending until one lands.
	deadline := time.After(3 * time.Second)
	for {
		if _, err := c.SendMessage(ctx, "sim-alex", "ping"); err != nil {
			t.Fatal(err)
		}
	wait:
		for {
			select {
			case evt := <-events:
				switch evt.Kind {
				case bus.MessageChanged:
					var m domain.Message
					if err := json.Unmarshal(evt.Payload, &m); err != nil {
						t.Fatal(err)
					}
					if m.Content != "ping" {
						t.Errorf("payload = %+v, want ping", m)
					}
					return
				case bus.MessagesSynced:
					var list []domain.Message
					if err := json.Unmarshal(evt.Payload, &list); err != nil {
						t.Fatalf("synced payload: %v", err)
					}
				}
			case <-time.After(100 * time.Millisecond):
				break wait
			case <-deadline:
				t.Fatal("no event received")
			}
		}
	}
}

func TestModuleLifecycle(t *testing.T) {
	home := shortTempDir(t, "nearby-home-*")
	t.Setenv("NEARBY_HOME", home)

	fxApp := fxtest.New(t, Module(Params{AccountName: "fx"}))
	fxApp.RequireStart()

	if _, err := os.Stat(account.SocketPath("fx")); err != nil {
		t.Errorf("socket not created: %v", err)
	}
	if pid, ok := lock.Holder(account.Dir("fx")); !ok || pid != os.Getpid() {
		t.Errorf("lock holder = %d, %v; want this process", pid, ok)
	}
	cfg, err := config.Load(account.ConfigPath("fx"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Profile.ID == "" || cfg.Profile.Name != "fx" {
		t.Errorf("saved profile = %+v, want generated id and account name", cfg.Profile)
	}

	c, err := client.New(account.SocketPath("fx"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	if !c.Probe(2 * time.Second) {
		t.Error("daemon did not answer")
	}

	fxApp.RequireStop()
	if _, err := os.Stat(account.SocketPath("fx")); !os.IsNotExist(err) {
		t.Errorf("socket left behind after stop: %v", err)
	}
}
