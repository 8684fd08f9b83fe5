package modpings

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"modbot/internal/config"
	"modbot/internal/plugin"
	"modbot/internal/storage"
	"modbot/internal/task/scheduler"
	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

const (
	testGuild    = "g1"
	testModsRole = "role-mods"
	testTeamRole = "role-team"
)

// ---- fakes ----

type sentMsg struct {
	channelID string
	text      string
	embed     *kit.Embed
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error                         { return nil }
func (a *fakeAdapter) Ready(ctx context.Context) error                        { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentMsg{channelID: to.ChannelID, text: text})
	return kit.MessageRef{ChannelID: to.ChannelID, MessageID: "m1"}, nil
}

func (a *fakeAdapter) SendEmbed(ctx context.Context, to kit.ChatTarget, e kit.Embed) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := e
	a.sent = append(a.sent, sentMsg{channelID: to.ChannelID, embed: &cp})
	return kit.MessageRef{ChannelID: to.ChannelID, MessageID: "m1"}, nil
}

func (a *fakeAdapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error { return nil }
func (a *fakeAdapter) AddReaction(ctx context.Context, ref kit.MessageRef, emoji string) error {
	return nil
}
func (a *fakeAdapter) RemoveReaction(ctx context.Context, ref kit.MessageRef, emoji, userID string) error {
	return nil
}

func (a *fakeAdapter) last(t *testing.T) sentMsg {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		t.Fatal("no message sent")
	}
	return a.sent[len(a.sent)-1]
}

type roleChange struct {
	userID, roleID, reason string
	added                  bool
}

type fakeRoles struct {
	mu      sync.Mutex
	members map[string]map[string]bool // roleID -> user set
	changes []roleChange
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{members: map[string]map[string]bool{}}
}

func (r *fakeRoles) grant(roleID string, userIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.members[roleID]
	if set == nil {
		set = map[string]bool{}
		r.members[roleID] = set
	}
	for _, id := range userIDs {
		set[id] = true
	}
}

func (r *fakeRoles) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[roleID] == nil {
		r.members[roleID] = map[string]bool{}
	}
	r.members[roleID][userID] = true
	r.changes = append(r.changes, roleChange{userID: userID, roleID: roleID, reason: reason, added: true})
	return nil
}

func (r *fakeRoles) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[roleID], userID)
	r.changes = append(r.changes, roleChange{userID: userID, roleID: roleID, reason: reason})
	return nil
}

func (r *fakeRoles) RoleMembers(ctx context.Context, guildID, roleID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id := range r.members[roleID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r *fakeRoles) MemberHasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[roleID][userID], nil
}

func (r *fakeRoles) changesFor(userID string) []roleChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []roleChange
	for _, c := range r.changes {
		if c.userID == userID {
			out = append(out, c)
		}
	}
	return out
}

// ---- fixture ----

type fixture struct {
	p       *Plugin
	adapter *fakeAdapter
	roles   *fakeRoles
	store   storage.Store
	sch     *scheduler.Service
	serv    *plugin.Services
	cfg     *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "modbot")}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sch := scheduler.New(scheduler.Config{Enabled: true, Workers: 2, DefaultTimeout: 5 * time.Second}, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	sch.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		sch.Stop(stopCtx)
		stopCancel()
		cancel()
	})

	adapter := &fakeAdapter{}
	roles := newFakeRoles()

	cfg := &config.Config{}
	cfg.Discord.GuildID = testGuild
	cfg.Discord.ModeratorsRoleID = testModsRole
	cfg.Discord.ModTeamRoleID = testTeamRole
	cfg.Discord.ModerationRoleIDs = []string{testModsRole}
	cfgm := config.NewManager("")
	cfgm.Commit(cfg)

	serv := &plugin.Services{Scheduler: sch, Store: st, Roles: roles}

	p := New()
	err = p.Init(context.Background(), plugin.PluginDeps{
		Logger:   logx.Nop(),
		Adapter:  adapter,
		Roles:    roles,
		Config:   cfgm,
		Services: serv,
		Store:    st,
	})
	if err != nil {
		t.Fatalf("init plugin: %v", err)
	}

	return &fixture{p: p, adapter: adapter, roles: roles, store: st, sch: sch, serv: serv, cfg: cfg}
}

func (f *fixture) request(modID string, args ...string) *plugin.Request {
	return &plugin.Request{
		Chat:     kit.ChatTarget{ChannelID: "c1"},
		GuildID:  testGuild,
		FromID:   modID,
		Args:     args,
		Adapter:  f.adapter,
		Config:   f.cfg,
		Logger:   logx.Nop(),
		Services: f.serv,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---- off / on ----

func TestOffRemovesRoleAndArmsReapply(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.roles.grant(testModsRole, "alice")

	if err := f.p.cmdOff(context.Background(), f.request("alice", "10d")); err != nil {
		t.Fatalf("cmdOff: %v", err)
	}

	chs := f.roles.changesFor("alice")
	if len(chs) != 1 || chs[0].added {
		t.Fatalf("expected one role removal, got %+v", chs)
	}
	if !strings.HasPrefix(chs[0].reason, "Turned pings off until ") {
		t.Errorf("unexpected removal reason %q", chs[0].reason)
	}

	entries, err := f.store.OffUntilAll(context.Background())
	if err != nil || len(entries) != 1 || entries[0].ModID != "alice" {
		t.Fatalf("store entries = %+v, err=%v", entries, err)
	}
	wantUntil := time.Now().UTC().Add(10 * 24 * time.Hour)
	if d := entries[0].Until.Sub(wantUntil); d < -5*time.Second || d > 5*time.Second {
		t.Errorf("stored until %v not near %v", entries[0].Until, wantUntil)
	}

	if !f.sch.Contains(offKey("alice")) {
		t.Error("re-apply timer should be pending")
	}

	last := f.adapter.last(t)
	if last.embed == nil || last.embed.Footer != "Moderators role has been removed until" {
		t.Errorf("expected confirmation embed, got %+v", last)
	}
}

func TestOffOverThirtyDaysRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.roles.grant(testModsRole, "alice")

	if err := f.p.cmdOff(context.Background(), f.request("alice", "31d")); err != nil {
		t.Fatalf("cmdOff: %v", err)
	}

	if got := f.adapter.last(t).text; got != ":x: Cannot remove the role for longer than 30 days." {
		t.Errorf("unexpected reply %q", got)
	}
	if len(f.roles.changesFor("alice")) != 0 {
		t.Error("role must not change on rejection")
	}
	if entries, _ := f.store.OffUntilAll(context.Background()); len(entries) != 0 {
		t.Errorf("store must stay empty, got %+v", entries)
	}
	if f.sch.Contains(offKey("alice")) {
		t.Error("no timer should be armed")
	}
}

func TestOffInvalidDuration(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.p.cmdOff(context.Background(), f.request("alice", "banana")); err != nil {
		t.Fatalf("cmdOff: %v", err)
	}
	last := f.adapter.last(t)
	if last.embed == nil || !strings.Contains(last.embed.Description, "not a valid duration") {
		t.Errorf("expected denial embed, got %+v", last)
	}
}

func TestOffThenOnLeavesCleanState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.roles.grant(testModsRole, "alice")
	ctx := context.Background()

	if err := f.p.cmdOff(ctx, f.request("alice", "1d")); err != nil {
		t.Fatalf("cmdOff: %v", err)
	}
	if err := f.p.cmdOn(ctx, f.request("alice")); err != nil {
		t.Fatalf("cmdOn: %v", err)
	}

	has, _ := f.roles.MemberHasRole(ctx, testGuild, "alice", testModsRole)
	if !has {
		t.Error("role should be back on")
	}
	chs := f.roles.changesFor("alice")
	if got := chs[len(chs)-1].reason; got != "Pings off period canceled." {
		t.Errorf("unexpected add reason %q", got)
	}
	if entries, _ := f.store.OffUntilAll(ctx); len(entries) != 0 {
		t.Errorf("off entry should be gone, got %+v", entries)
	}
	if f.sch.Contains(offKey("alice")) {
		t.Error("re-apply timer should be cancelled")
	}
	if got := f.adapter.last(t).text; !strings.Contains(got, "Moderators role has been re-applied.") {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestOnAlreadyHasRole(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.roles.grant(testModsRole, "alice")

	if err := f.p.cmdOn(context.Background(), f.request("alice")); err != nil {
		t.Fatalf("cmdOn: %v", err)
	}
	if got := f.adapter.last(t).text; got != ":question: You already have the role." {
		t.Errorf("unexpected reply %q", got)
	}
	if len(f.roles.changesFor("alice")) != 0 {
		t.Error("role must not change")
	}
}

// ---- schedule ----

func TestScheduleStoresShiftAndArms(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// 10:00 to 06:00 crosses midnight: 20 hours on duty.
	if err := f.p.cmdSchedule(ctx, f.request("bob", "10:00", "06:00")); err != nil {
		t.Fatalf("cmdSchedule: %v", err)
	}

	entries, err := f.store.ShiftAll(ctx)
	if err != nil || len(entries) != 1 {
		t.Fatalf("shift entries = %+v, err=%v", entries, err)
	}
	if entries[0].ModID != "bob" || entries[0].Work != 20*time.Hour {
		t.Errorf("unexpected shift %+v", entries[0])
	}
	// A start earlier today fires immediately and re-arms the off
	// transition, so the key is pending either way once things settle.
	waitFor(t, "shift timer", func() bool { return f.sch.Contains(shiftKey("bob")) })
	if got := f.adapter.last(t).text; !strings.Contains(got, "Scheduled mod pings from 10:00AM to 06:00AM UTC Timing!") {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestScheduleRejectsShortWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// 22:00 to 02:00 is a 4 hour window once end rolls to the next day.
	for _, args := range [][]string{{"10:00", "20:00"}, {"22:00", "02:00"}} {
		if err := f.p.cmdSchedule(ctx, f.request("bob", args...)); err != nil {
			t.Fatalf("cmdSchedule%v: %v", args, err)
		}
		if got := f.adapter.last(t).text; !strings.Contains(got, "minimum of 16 hours!") {
			t.Errorf("schedule%v: unexpected reply %q", args, got)
		}
	}

	if entries, _ := f.store.ShiftAll(ctx); len(entries) != 0 {
		t.Errorf("no shift should be stored, got %+v", entries)
	}
	if f.sch.Contains(shiftKey("bob")) {
		t.Error("no timer should be armed")
	}
}

func TestScheduleCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.p.cmdSchedule(ctx, f.request("bob", "08:00", "04:00")); err != nil {
		t.Fatalf("cmdSchedule: %v", err)
	}
	// Let an immediate past-start fire re-arm before cancelling.
	waitFor(t, "shift timer", func() bool { return f.sch.Contains(shiftKey("bob")) })
	if err := f.p.cmdScheduleCancel(ctx, f.request("bob")); err != nil {
		t.Fatalf("cmdScheduleCancel: %v", err)
	}

	if entries, _ := f.store.ShiftAll(ctx); len(entries) != 0 {
		t.Errorf("shift should be deleted, got %+v", entries)
	}
	if f.sch.Contains(shiftKey("bob")) {
		t.Error("shift timer should be cancelled")
	}
}

func TestShiftCycleChainsOnOffOn(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	start := time.Now().Add(20 * time.Millisecond)
	if err := f.p.armShiftOn(testGuild, "bob", testModsRole, start, 60*time.Millisecond); err != nil {
		t.Fatalf("armShiftOn: %v", err)
	}

	waitFor(t, "shift on", func() bool {
		for _, c := range f.roles.changesFor("bob") {
			if c.added && c.reason == "Moderator schedule time started!" {
				return true
			}
		}
		return false
	})
	waitFor(t, "shift off", func() bool {
		for _, c := range f.roles.changesFor("bob") {
			if !c.added && c.reason == "Moderator schedule time expired." {
				return true
			}
		}
		return false
	})
	// The off transition re-arms the next cycle one gap later.
	waitFor(t, "next cycle armed", func() bool { return f.sch.Contains(shiftKey("bob")) })
}

func TestShiftOnSkipsWhenPingsOff(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.SetOffUntil(ctx, "bob", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("seed off entry: %v", err)
	}

	job := f.p.shiftOnJob(testGuild, "bob", testModsRole, time.Now(), time.Hour)
	if err := job(ctx); err != nil {
		t.Fatalf("shiftOnJob: %v", err)
	}

	for _, c := range f.roles.changesFor("bob") {
		if c.added {
			t.Fatalf("role must not be added while pings are off: %+v", c)
		}
	}
	if !f.sch.Contains(shiftKey("bob")) {
		t.Error("off transition should still be armed")
	}
}

// ---- reconcile ----

func TestReconcile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.roles.grant(testTeamRole, "alice", "bob", "carol", "dave")
	f.roles.grant(testModsRole, "alice", "bob")

	future := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)
	// alice is on duty, so her entry is stale.
	if err := f.store.SetOffUntil(ctx, "alice", future); err != nil {
		t.Fatal(err)
	}
	// carol is off duty with a valid entry.
	if err := f.store.SetOffUntil(ctx, "carol", future); err != nil {
		t.Fatal(err)
	}
	// dave is off duty with no entry: fail open, role comes back.
	// bob additionally has a shift schedule whose first cycles already ran.
	oldStart := time.Now().UTC().Add(-50 * time.Hour)
	if err := f.store.SetShift(ctx, storage.ShiftEntry{ModID: "bob", Start: oldStart, Work: 20 * time.Hour}); err != nil {
		t.Fatal(err)
	}

	if err := f.p.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	entries, _ := f.store.OffUntilAll(ctx)
	if len(entries) != 1 || entries[0].ModID != "carol" {
		t.Errorf("only carol's entry should survive, got %+v", entries)
	}
	if !f.sch.Contains(offKey("carol")) {
		t.Error("carol's re-apply timer should be armed")
	}
	if f.sch.Contains(offKey("alice")) {
		t.Error("alice must not get a timer")
	}
	has, _ := f.roles.MemberHasRole(ctx, testGuild, "dave", testModsRole)
	if !has {
		t.Error("dave's role should be re-applied")
	}
	chs := f.roles.changesFor("dave")
	if len(chs) != 1 || !chs[0].added || chs[0].reason != "Pings off period expired." {
		t.Errorf("unexpected changes for dave: %+v", chs)
	}
	// The fast-forwarded cycle may be mid-shift, in which case the on
	// transition fires immediately and re-arms the off transition.
	waitFor(t, "bob's shift cycle", func() bool { return f.sch.Contains(shiftKey("bob")) })

	// Running it again must not change anything further.
	if err := f.p.reconcile(ctx); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if chs := f.roles.changesFor("dave"); len(chs) != 1 {
		t.Errorf("second reconcile touched dave again: %+v", chs)
	}
	if entries, _ := f.store.OffUntilAll(ctx); len(entries) != 1 {
		t.Errorf("second reconcile changed the store: %+v", entries)
	}
}

func TestSweepReappliesOverdue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// Overdue entry with no pending timer, e.g. after a scheduler hiccup.
	past := time.Now().UTC().Add(-time.Minute)
	if err := f.store.SetOffUntil(ctx, "alice", past); err != nil {
		t.Fatal(err)
	}

	if err := f.p.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	has, _ := f.roles.MemberHasRole(ctx, testGuild, "alice", testModsRole)
	if !has {
		t.Error("role should be re-applied by the sweep")
	}
	if entries, _ := f.store.OffUntilAll(ctx); len(entries) != 0 {
		t.Errorf("entry should be cleared, got %+v", entries)
	}
}
