package quota

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/inkwellhq/inkwell/internal/clock"
	"github.com/inkwellhq/inkwell/internal/config"
	tenantdomain "github.com/inkwellhq/inkwell/internal/tenant/domain"
	tenantrepository "github.com/inkwellhq/inkwell/internal/tenant/repository"
)

type counterStub struct {
	mu        sync.Mutex
	count     int64
	available bool
	enabled   bool
	calls     int
}

func (c *counterStub) IncrementAndGet(ctx context.Context, scope tenantdomain.TenantScope, kind tenantdomain.ResourceKind, at time.Time) CounterResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if !c.available {
		return CounterResult{Available: false}
	}
	c.count++
	return CounterResult{Count: c.count, Available: true}
}

func (c *counterStub) Enabled() bool { return c.enabled }

func (c *counterStub) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	_ = db.Exec("PRAGMA journal_mode = WAL").Error

	prepareTenantSchema(t, db)
	return db
}

func prepareTenantSchema(t *testing.T, db *gorm.DB) {
	t.Helper()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT 'free',
			articles_used INTEGER NOT NULL DEFAULT 0,
			outlines_used INTEGER NOT NULL DEFAULT 0,
			images_used INTEGER NOT NULL DEFAULT 0,
			usage_reset_date DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_accounts (
			id INTEGER PRIMARY KEY,
			email TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT 'free',
			articles_used INTEGER NOT NULL DEFAULT 0,
			outlines_used INTEGER NOT NULL DEFAULT 0,
			images_used INTEGER NOT NULL DEFAULT 0,
			usage_reset_date DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}
}

func newTestChecker(t *testing.T, db *gorm.DB, counter Counter, fc *clock.FakeClock) *Checker {
	t.Helper()

	return NewChecker(CheckerParams{
		Policy:  NewPolicy(config.NewStaticPlanConfigHolder(config.DefaultPlanConfig())),
		Counter: counter,
		Repo:    tenantrepository.Provide(db),
		Clock:   fc,
		Log:     zap.NewNop(),
	})
}

func seedProject(t *testing.T, db *gorm.DB, id snowflake.ID, tier tenantdomain.Tier, articlesUsed int, resetDate *time.Time) {
	t.Helper()
	project := &tenantdomain.Project{
		ID:             id,
		Name:           "test project",
		Tier:           tier,
		ArticlesUsed:   articlesUsed,
		UsageResetDate: resetDate,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
}

func seedUserAccount(t *testing.T, db *gorm.DB, id snowflake.ID, tier tenantdomain.Tier, articlesUsed int, resetDate *time.Time) {
	t.Helper()
	account := &tenantdomain.UserAccount{
		ID:             id,
		Email:          fmt.Sprintf("user-%s@example.com", id),
		Tier:           tier,
		ArticlesUsed:   articlesUsed,
		UsageResetDate: resetDate,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("seed user account: %v", err)
	}
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func testNow() time.Time {
	return time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
}

func TestCheckLimitProjectWithinLimit(t *testing.T) {
	db := openTestDB(t)
	node := mustNode(t)
	projectID := node.Generate()
	now := testNow()
	seedProject(t, db, projectID, tenantdomain.TierFree, 0, &now)

	counter := &counterStub{available: true, enabled: true}
	checker := newTestChecker(t, db, counter, clock.NewFakeClock(now))

	scope := tenantdomain.ProjectScope(projectID)
	for i := 0; i < 5; i++ {
		d := checker.CheckLimit(context.Background(), scope, tenantdomain.ResourceArticle)
		if !d.Allowed {
			t.Fatalf("attempt %d: expected allowed, got %+v", i+1, d)
		}
	}

	d := checker.CheckLimit(context.Background(), scope, tenantdomain.ResourceArticle)
	if d.Allowed {
		t.Fatalf("expected sixth attempt denied on free tier, got %+v", d)
	}
	if d.Reason != ReasonLimitReached {
		t.Fatalf("expected reason %q, got %q", ReasonLimitReached, d.Reason)
	}
}

func TestCheckLimitProjectUnknownDenied(t *testing.T) {
	db := openTestDB(t)
	node := mustNode(t)
	counter := &counterStub{available: true, enabled: true}
	checker := newTestChecker(t, db, counter, clock.NewFakeClock(testNow()))

	d := checker.CheckLimit(context.Background(), tenantdomain.ProjectScope(node.Generate()), tenantdomain.ResourceArticle)
	if d.Allowed {
		t.Fatalf("expected unknown project denied, got %+v", d)
	}
	if d.Reason != ReasonTenantMissing {
		t.Fatalf("expected reason %q, got %q", ReasonTenantMissing, d.Reason)
	}
}

func TestCheckLimitProjectLookupFailureDenied(t *testing.T) {
	db := openTestDB(t)
	if err := db.Exec("DROP TABLE projects").Error; err != nil {
		t.Fatalf("drop table: %v", err)
	}
	counter := &counterStub{available: true, enabled: true}
	checker := newTestChecker(t, db, counter, clock.NewFakeClock(testNow()))

	d := checker.CheckLimit(context.Background(), tenantdomain.ProjectScope(42), tenantdomain.ResourceArticle)
	if d.Allowed {
		t.Fatalf("expected lookup failure denied, got %+v", d)
	}
	if d.Reason != ReasonLookupFailed {
		t.Fatalf("expected reason %q, got %q", ReasonLookupFailed, d.Reason)
	}
}

func TestCheckLimitProjectCounterUnavailableDenied(t *testing.T) {
	db := openTestDB(t)
	node := mustNode(t)
	projectID := node.Generate()
	now := testNow()
	seedProject(t, db, projectID, tenantdomain.TierFree, 0, &now)

	counter := &counterStub{available: false, enabled: true}
	checker := newTestChecker(t, db, counter, clock.NewFakeClock(now))

	d := checker.CheckLimit(context.Background(), tenantdomain.ProjectScope(projectID), tenantdomain.ResourceArticle)
	if d.Allowed {
		t.Fatalf("expected denial when counter unavailable, got %+v", d)
	}
	if d.Reason != ReasonCounterUnavailable {
		t.Fatalf("expected reason %q, got %q", ReasonCounterUnavailable, d.Reason)
	}
}

func TestCheckLimitProjectUnlimitedSkipsCounter(t *testing.T) {
	db := openTestDB(t)
	node := mustNode(t)
	projectID := node.Generate()
	now := testNow()
	seedProject(t, db, projectID, tenantdomain.TierEnterprise, 9999, &now)

	counter := &counterStub{available: true, enabled: true}
	checker := newTestChecker(t, db, counter, clock.NewFakeClock(now))

	d := checker.CheckLimit(context.Background(), tenantdomain.ProjectScope(projectID), tenantdomain.ResourceArticle)
	if !d.Allowed {
		t.Fatalf("expected unlimited tier allowed, got %+v", d)
	}
	if d.Reason != ReasonUnlimited {
		t.Fatalf("expected reason %q, got %q", ReasonUnlimited, d.Reason)
	}
	if counter.Calls() != 0 {
		t.Fatalf("expected counter untouched for unlimited tier, got %d calls", counter.Calls())
	}
}

func TestCheckLimitProjectMonthlyRollover(t *testing.T) {
	db := openTestDB(t)
	node := mustNode(t)
	projectID := node.Generate()
	now := testNow()
	lastMonth := now.AddDate(0, -1, 0)
	seedProject(t, db, projectID, tenantdomain.TierFree, 5, &lastMonth)

	counter := &counterStub{available: true, enabled: true}
	checker := newTestChecker(t, db, counter, clock.NewFakeClock(now))

	d := checker.CheckLimit(context.Background(), tenantdomain.ProjectScope(projectID), tenantdomain.ResourceArticle)
	if !d.Allowed {
		t.Fatalf("expected allowed after monthly rollover, got %+v", d)
	}

	var project tenantdomain.Project
	if err := db.First(&project, "id = ?", projectID).Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if project.ArticlesUsed != 0 {
		t.Fatalf("expected counters zeroed after rollover, got %d", project.ArticlesUsed)
	}
	if project.UsageResetDate == nil || !project.UsageResetDate.UTC().Equal(now) {
		t.Fatalf("expected reset date stamped to now, got %v", project.UsageResetDate)
	}
}

func TestCheckLimitPersonalUnknownAllowed(t *testing.T) {
	db := openTestDB(t)
	node := mustNode(t)
	counter := &counterStub{available: true, enabled: true}
	checker := newTestChecker(t, db, counter, clock.NewFakeClock(testNow()))

	d := checker.CheckLimit(context.Background(), tenantdomain.PersonalScope(node.Generate()), tenantdomain.ResourceArticle)
	if !d.Allowed {
		t.Fatalf("expected unknown user allowed, got %+v", d)
	}
	if d.Reason != ReasonTenantMissing {
		t.Fatalf("expected reason %q, got %q", ReasonTenantMissing, d.Reason)
	}
}

func TestCheckLimitPersonalLookupFailureAllowed(t *testing.T) {
	db := openTestDB(t)
	if err := db.Exec("DROP TABLE user_accounts").Error; err != nil {
		t.Fatalf("drop table: %v", err)
	}
	counter := &counterStub{available: true, enabled: true}
	checker := newTestChecker(t, db, counter, clock.NewFakeClock(testNow()))

	d := checker.CheckLimit(context.Background(), tenantdomain.PersonalScope(7), tenantdomain.ResourceArticle)
	if !d.Allowed {
		t.Fatalf("expected lookup failure to fail open for personal scope, got %+v", d)
	}
}

func TestCheckLimitPersonalFallsBackToStoredUsage(t *testing.T) {
	db := openTestDB(t)
	node := mustNode(t)
	userID := node.Generate()
	now := testNow()
	seedUserAccount(t, db, userID, tenantdomain.TierFree, 5, &now)

	counter := &counterStub{available: false, enabled: true}
	checker := newTestChecker(t, db, counter, clock.NewFakeClock(now))

	scope := tenantdomain.PersonalScope(userID)
	d := checker.CheckLimit(context.Background(), scope, tenantdomain.ResourceArticle)
	if d.Allowed {
		t.Fatalf("expected stored usage at limit to deny, got %+v", d)
	}

	if err := db.Model(&tenantdomain.UserAccount{}).Where("id = ?", userID).Update("articles_used", 4).Error; err != nil {
		t.Fatalf("update usage: %v", err)
	}
	d = checker.CheckLimit(context.Background(), scope, tenantdomain.ResourceArticle)
	if !d.Allowed {
		t.Fatalf("expected stored usage under limit to allow, got %+v", d)
	}
}

func TestCheckLimitNoScopeAllowed(t *testing.T) {
	db := openTestDB(t)
	counter := &counterStub{available: true, enabled: true}
	checker := newTestChecker(t, db, counter, clock.NewFakeClock(testNow()))

	d := checker.CheckLimit(context.Background(), tenantdomain.NoScope(), tenantdomain.ResourceArticle)
	if !d.Allowed {
		t.Fatalf("expected unscoped request allowed, got %+v", d)
	}
	if d.Reason != ReasonUnmetered {
		t.Fatalf("expected reason %q, got %q", ReasonUnmetered, d.Reason)
	}
	if counter.Calls() != 0 {
		t.Fatalf("expected counter untouched for unscoped request, got %d calls", counter.Calls())
	}
}

func TestUsageSnapshot(t *testing.T) {
	db := openTestDB(t)
	node := mustNode(t)
	projectID := node.Generate()
	now := testNow()
	seedProject(t, db, projectID, tenantdomain.TierFree, 3, &now)

	checker := newTestChecker(t, db, &counterStub{enabled: false}, clock.NewFakeClock(now))

	usage, err := checker.Usage(context.Background(), tenantdomain.ProjectScope(projectID))
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if len(usage) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(usage))
	}
	if usage[0].Kind != tenantdomain.ResourceArticle || usage[0].Used != 3 || usage[0].Limit != 5 {
		t.Fatalf("unexpected article snapshot: %+v", usage[0])
	}
}
