package drip

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gitauto-ai/drip/config"
	"github.com/gitauto-ai/drip/email"
	"github.com/gitauto-ai/drip/storage"
)

// memStore is an in-memory storage.Storage.
type memStore struct {
	mu sync.Mutex

	installations []*storage.Installation
	owners        []*storage.Owner
	users         []*storage.User
	repos         []*storage.Repository
	usage         []*storage.Usage
	ownerCoverage []*storage.Coverage
	repoCoverage  []*storage.Coverage
	subscriptions []*storage.Subscription
	purchases     []int64
	replied       []int64

	sends      []*storage.EmailSend
	grants     []*storage.CreditGrant
	sentToday  int
	countSince time.Time

	errOn      map[string]error
	listOffset []int
}

var _ storage.Storage = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{errOn: make(map[string]error)}
}

func (m *memStore) fail(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errOn[op]
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (m *memStore) ListInstallations(_ context.Context, limit, offset int) ([]*storage.Installation, error) {
	if err := m.fail("ListInstallations"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.listOffset = append(m.listOffset, offset)
	m.mu.Unlock()

	var active []*storage.Installation
	for _, inst := range m.installations {
		if inst.UninstalledAt == nil {
			active = append(active, inst)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
	if offset >= len(active) {
		return nil, nil
	}
	return active[offset:min(offset+limit, len(active))], nil
}

func (m *memStore) ListUninstalledInstallations(_ context.Context) ([]*storage.Installation, error) {
	if err := m.fail("ListUninstalledInstallations"); err != nil {
		return nil, err
	}
	var out []*storage.Installation
	for _, inst := range m.installations {
		if inst.UninstalledAt != nil {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (m *memStore) ListSubscribedInstallations(_ context.Context) ([]*storage.Installation, error) {
	if err := m.fail("ListSubscribedInstallations"); err != nil {
		return nil, err
	}
	customers := make(map[string]bool)
	for _, s := range m.subscriptions {
		customers[s.CustomerID] = true
	}
	subscribed := make(map[int64]bool)
	for _, o := range m.owners {
		if o.StripeCustomerID != "" && customers[o.StripeCustomerID] {
			subscribed[o.OwnerID] = true
		}
	}
	var out []*storage.Installation
	for _, inst := range m.installations {
		if inst.UninstalledAt == nil && subscribed[inst.OwnerID] {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (m *memStore) GetOwners(_ context.Context, ownerIDs []int64) ([]*storage.Owner, error) {
	if err := m.fail("GetOwners"); err != nil {
		return nil, err
	}
	want := idSet(ownerIDs)
	var out []*storage.Owner
	for _, o := range m.owners {
		if want[o.OwnerID] {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) GetSentEmailTypes(_ context.Context, ownerIDs []int64) (map[int64][]string, error) {
	if err := m.fail("GetSentEmailTypes"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	want := idSet(ownerIDs)
	out := make(map[int64][]string)
	for _, s := range m.sends {
		if want[s.OwnerID] {
			out[s.OwnerID] = append(out[s.OwnerID], s.EmailType)
		}
	}
	return out, nil
}

func (m *memStore) GetRepositories(_ context.Context, ownerIDs []int64) ([]*storage.Repository, error) {
	if err := m.fail("GetRepositories"); err != nil {
		return nil, err
	}
	want := idSet(ownerIDs)
	var out []*storage.Repository
	for _, r := range m.repos {
		if want[r.OwnerID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) GetPurchaseOwnerIDs(_ context.Context, ownerIDs []int64) ([]int64, error) {
	if err := m.fail("GetPurchaseOwnerIDs"); err != nil {
		return nil, err
	}
	want := idSet(ownerIDs)
	var out []int64
	for _, id := range m.purchases {
		if want[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) GetUsage(_ context.Context, ownerIDs []int64) ([]*storage.Usage, error) {
	if err := m.fail("GetUsage"); err != nil {
		return nil, err
	}
	want := idSet(ownerIDs)
	var out []*storage.Usage
	for _, u := range m.usage {
		if want[u.OwnerID] {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) GetOwnerCoverage(_ context.Context, ownerIDs []int64) ([]*storage.Coverage, error) {
	if err := m.fail("GetOwnerCoverage"); err != nil {
		return nil, err
	}
	return filterCoverage(m.ownerCoverage, idSet(ownerIDs)), nil
}

func (m *memStore) GetRepoCoverage(_ context.Context, ownerIDs []int64) ([]*storage.Coverage, error) {
	if err := m.fail("GetRepoCoverage"); err != nil {
		return nil, err
	}
	return filterCoverage(m.repoCoverage, idSet(ownerIDs)), nil
}

func (m *memStore) GetAllRepoCoverage(_ context.Context) ([]*storage.Coverage, error) {
	if err := m.fail("GetAllRepoCoverage"); err != nil {
		return nil, err
	}
	return m.repoCoverage, nil
}

func filterCoverage(rows []*storage.Coverage, want map[int64]bool) []*storage.Coverage {
	var out []*storage.Coverage
	for _, c := range rows {
		if want[c.OwnerID] {
			out = append(out, c)
		}
	}
	return out
}

func (m *memStore) GetUsers(_ context.Context, userIDs []int64) ([]*storage.User, error) {
	if err := m.fail("GetUsers"); err != nil {
		return nil, err
	}
	want := idSet(userIDs)
	var out []*storage.User
	for _, u := range m.users {
		if want[u.UserID] {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) GetSubscriptions(_ context.Context, customerIDs []string) ([]*storage.Subscription, error) {
	if err := m.fail("GetSubscriptions"); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(customerIDs))
	for _, id := range customerIDs {
		want[id] = true
	}
	var out []*storage.Subscription
	for _, s := range m.subscriptions {
		if want[s.CustomerID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetRepliedUserIDs(_ context.Context, userIDs []int64) ([]int64, error) {
	if err := m.fail("GetRepliedUserIDs"); err != nil {
		return nil, err
	}
	want := idSet(userIDs)
	var out []int64
	for _, id := range m.replied {
		if want[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) InsertEmailSend(_ context.Context, send *storage.EmailSend) error {
	if err := m.fail("InsertEmailSend"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, send)
	return nil
}

func (m *memStore) CountEmailSendsSince(_ context.Context, since time.Time) (int, error) {
	if err := m.fail("CountEmailSendsSince"); err != nil {
		return 0, err
	}
	m.countSince = since
	return m.sentToday, nil
}

func (m *memStore) GrantCredit(_ context.Context, grant *storage.CreditGrant) error {
	if err := m.fail("GrantCredit"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants = append(m.grants, grant)
	return nil
}

// ledger returns the recorded sends of ownerID.
func (m *memStore) ledger(ownerID int64) []*storage.EmailSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*storage.EmailSend
	for _, s := range m.sends {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out
}

// addOwner registers an owner, its creator and an installation created
// installedDaysAgo days before now.
func (m *memStore) addOwner(ownerID int64, name string, userID int64, addr string, now time.Time, installedDaysAgo int) {
	m.owners = append(m.owners, &storage.Owner{
		OwnerID:   ownerID,
		OwnerName: name,
		CreatedBy: formatCreatedBy(userID, name),
	})
	if !m.hasUser(userID) {
		m.users = append(m.users, &storage.User{UserID: userID, UserName: name, Email: addr, DisplayName: "Ada Lovelace"})
	}
	m.installations = append(m.installations, &storage.Installation{
		InstallationID: ownerID * 10,
		OwnerID:        ownerID,
		OwnerName:      name,
		CreatedAt:      now.AddDate(0, 0, -installedDaysAgo),
	})
}

func (m *memStore) hasUser(userID int64) bool {
	for _, u := range m.users {
		if u.UserID == userID {
			return true
		}
	}
	return false
}

func formatCreatedBy(userID int64, name string) string {
	return strconv.FormatInt(userID, 10) + ":" + name
}

// fakeSender records messages and fails for addresses in failFor.
type fakeSender struct {
	mu      sync.Mutex
	sent    []*email.Message
	failFor map[string]bool
}

func (f *fakeSender) Send(_ context.Context, msg *email.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[msg.To] {
		return "", errors.New("provider rejected message")
	}
	f.sent = append(f.sent, msg)
	return "re_" + msg.To, nil
}

type fakeDrafter struct {
	drafts []*email.Message
	id     string
	err    error
}

func (f *fakeDrafter) CreateDraft(_ context.Context, msg *email.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.drafts = append(f.drafts, msg)
	return f.id, nil
}

// fakePRChecker reports PRs listed in open as open.
type fakePRChecker struct {
	open  map[string]bool
	err   error
	calls int
}

func (f *fakePRChecker) IsPullRequestOpen(_ context.Context, _ int64, owner, repo string, prNumber int) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.open[OpenPR{OwnerName: owner, RepoName: repo, PRNumber: prNumber}.URL()], nil
}

type fakeNotifier struct {
	messages []string
	threads  []string
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, text, threadID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.messages = append(f.messages, text)
	f.threads = append(f.threads, threadID)
	if threadID == "" {
		return "1700000000.000100", nil
	}
	return threadID, nil
}

var testNow = time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.DryRun = false
	return cfg
}

// newTestEngine builds a live-mode engine over store with a fixed clock and no jitter.
func newTestEngine(store *memStore, sender *fakeSender, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = testConfig()
	}
	e := NewEngine(store, sender, nil, nil, nil, cfg, testLogger())
	e.SetClock(func() time.Time { return testNow })
	e.SetJitter(func(time.Duration) time.Duration { return 0 })
	return e
}

func fetch(t *testing.T, store *memStore, installs []*storage.Installation) *Batch {
	t.Helper()
	batch, err := FetchBatch(context.Background(), store, installOwnerIDs(installs))
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}
	return batch
}
