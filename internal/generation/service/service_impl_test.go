package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	alertdomain "github.com/inkwellhq/inkwell/internal/alert/domain"
	alertservice "github.com/inkwellhq/inkwell/internal/alert/service"
	"github.com/inkwellhq/inkwell/internal/clock"
	"github.com/inkwellhq/inkwell/internal/generation/domain"
	tenantdomain "github.com/inkwellhq/inkwell/internal/tenant/domain"
	tenantrepository "github.com/inkwellhq/inkwell/internal/tenant/repository"
)

func setupTracker(t *testing.T, fc *clock.FakeClock) (domain.Tracker, *gorm.DB, *snowflake.Node) {
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

	prepareSchema(t, db)

	node := mustNode(t)
	alerts := alertservice.New(alertservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
	})

	tracker := New(ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fc,
		Repo:   tenantrepository.Provide(db),
		Alerts: alerts,
	})

	return tracker, db, node
}

func prepareSchema(t *testing.T, db *gorm.DB) {
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
		`CREATE TABLE IF NOT EXISTS generation_logs (
			id INTEGER PRIMARY KEY,
			project_id INTEGER,
			user_id INTEGER,
			resource_kind TEXT NOT NULL,
			resource_id TEXT,
			status TEXT NOT NULL DEFAULT 'started',
			ai_model TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			cost_credits INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS admin_alerts (
			id INTEGER PRIMARY KEY,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			project_id INTEGER,
			user_id INTEGER,
			resource_kind TEXT,
			resource_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}
}

func seedProject(t *testing.T, db *gorm.DB, id snowflake.ID) {
	t.Helper()
	project := &tenantdomain.Project{
		ID:        id,
		Name:      "test project",
		Tier:      tenantdomain.TierFree,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("seed project: %v", err)
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

func TestLifecycleSuccessChargesUsageOnce(t *testing.T) {
	fc := clock.NewFakeClock(testNow())
	tracker, db, node := setupTracker(t, fc)
	projectID := node.Generate()
	seedProject(t, db, projectID)
	scope := tenantdomain.ProjectScope(projectID)

	record, err := tracker.LogStart(context.Background(), domain.StartRequest{
		Scope:        scope,
		ResourceKind: tenantdomain.ResourceArticle,
		ResourceID:   "article-1",
		AIModel:      "inkwell-writer-v2",
	})
	if err != nil {
		t.Fatalf("log start: %v", err)
	}
	if record == nil || record.Status != domain.StatusStarted {
		t.Fatalf("expected started log, got %+v", record)
	}

	fc.Advance(90 * time.Second)
	if err := tracker.LogSuccess(context.Background(), record.ID, "inkwell-writer-v2", 90*time.Second); err != nil {
		t.Fatalf("log success: %v", err)
	}

	var reloaded domain.GenerationLog
	if err := db.First(&reloaded, "id = ?", record.ID).Error; err != nil {
		t.Fatalf("reload log: %v", err)
	}
	if reloaded.Status != domain.StatusSuccess {
		t.Fatalf("expected status success, got %s", reloaded.Status)
	}
	if reloaded.CostCredits != domain.SuccessCostCredits {
		t.Fatalf("expected cost %d, got %d", domain.SuccessCostCredits, reloaded.CostCredits)
	}
	if reloaded.DurationMS != 90000 {
		t.Fatalf("expected duration 90000ms, got %d", reloaded.DurationMS)
	}
	if reloaded.CompletedAt == nil {
		t.Fatalf("expected completed_at set")
	}

	var project tenantdomain.Project
	if err := db.First(&project, "id = ?", projectID).Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if project.ArticlesUsed != 1 {
		t.Fatalf("expected one article charged, got %d", project.ArticlesUsed)
	}
}

func TestLogSuccessIsIdempotentPerLog(t *testing.T) {
	fc := clock.NewFakeClock(testNow())
	tracker, db, node := setupTracker(t, fc)
	projectID := node.Generate()
	seedProject(t, db, projectID)

	record, err := tracker.LogStart(context.Background(), domain.StartRequest{
		Scope:        tenantdomain.ProjectScope(projectID),
		ResourceKind: tenantdomain.ResourceArticle,
	})
	if err != nil {
		t.Fatalf("log start: %v", err)
	}

	if err := tracker.LogSuccess(context.Background(), record.ID, "", time.Second); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := tracker.LogSuccess(context.Background(), record.ID, "", time.Second); err != domain.ErrLogClosed {
		t.Fatalf("expected ErrLogClosed on second close, got %v", err)
	}
	if err := tracker.LogFailure(context.Background(), record.ID, "late failure"); err != domain.ErrLogClosed {
		t.Fatalf("expected ErrLogClosed on failure after success, got %v", err)
	}

	var project tenantdomain.Project
	if err := db.First(&project, "id = ?", projectID).Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if project.ArticlesUsed != 1 {
		t.Fatalf("expected exactly one charge, got %d", project.ArticlesUsed)
	}
}

func TestLogFailureRaisesAlertAndSkipsCharge(t *testing.T) {
	fc := clock.NewFakeClock(testNow())
	tracker, db, node := setupTracker(t, fc)
	projectID := node.Generate()
	seedProject(t, db, projectID)

	record, err := tracker.LogStart(context.Background(), domain.StartRequest{
		Scope:        tenantdomain.ProjectScope(projectID),
		ResourceKind: tenantdomain.ResourceOutline,
		ResourceID:   "outline-9",
	})
	if err != nil {
		t.Fatalf("log start: %v", err)
	}

	if err := tracker.LogFailure(context.Background(), record.ID, "model timed out"); err != nil {
		t.Fatalf("log failure: %v", err)
	}

	var reloaded domain.GenerationLog
	if err := db.First(&reloaded, "id = ?", record.ID).Error; err != nil {
		t.Fatalf("reload log: %v", err)
	}
	if reloaded.Status != domain.StatusFailed {
		t.Fatalf("expected status failed, got %s", reloaded.Status)
	}
	if reloaded.ErrorMessage == nil || *reloaded.ErrorMessage != "model timed out" {
		t.Fatalf("unexpected error message: %v", reloaded.ErrorMessage)
	}
	if reloaded.CostCredits != 0 {
		t.Fatalf("expected no cost on failure, got %d", reloaded.CostCredits)
	}

	var alerts []alertdomain.AdminAlert
	if err := db.Find(&alerts).Error; err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
	if alerts[0].Type != alertdomain.AlertGenerationFailed {
		t.Fatalf("unexpected alert type %s", alerts[0].Type)
	}
	if alerts[0].ProjectID == nil || *alerts[0].ProjectID != projectID {
		t.Fatalf("expected alert bound to project, got %+v", alerts[0])
	}

	var project tenantdomain.Project
	if err := db.First(&project, "id = ?", projectID).Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if project.OutlinesUsed != 0 {
		t.Fatalf("expected no charge on failure, got %d", project.OutlinesUsed)
	}
}

func TestLogFailureTruncatesLongMessages(t *testing.T) {
	fc := clock.NewFakeClock(testNow())
	tracker, db, node := setupTracker(t, fc)
	projectID := node.Generate()
	seedProject(t, db, projectID)

	record, err := tracker.LogStart(context.Background(), domain.StartRequest{
		Scope:        tenantdomain.ProjectScope(projectID),
		ResourceKind: tenantdomain.ResourceArticle,
	})
	if err != nil {
		t.Fatalf("log start: %v", err)
	}

	long := strings.Repeat("x", 2500)
	if err := tracker.LogFailure(context.Background(), record.ID, long); err != nil {
		t.Fatalf("log failure: %v", err)
	}

	var reloaded domain.GenerationLog
	if err := db.First(&reloaded, "id = ?", record.ID).Error; err != nil {
		t.Fatalf("reload log: %v", err)
	}
	if reloaded.ErrorMessage == nil || len(*reloaded.ErrorMessage) != domain.MaxErrorMessageLen {
		t.Fatalf("expected message truncated to %d bytes", domain.MaxErrorMessageLen)
	}
}

func TestLogStartFailureProceedsUnlogged(t *testing.T) {
	fc := clock.NewFakeClock(testNow())
	tracker, db, node := setupTracker(t, fc)
	if err := db.Exec("DROP TABLE generation_logs").Error; err != nil {
		t.Fatalf("drop table: %v", err)
	}

	record, err := tracker.LogStart(context.Background(), domain.StartRequest{
		Scope:        tenantdomain.ProjectScope(node.Generate()),
		ResourceKind: tenantdomain.ResourceArticle,
	})
	if err != nil {
		t.Fatalf("expected tracking failure to be swallowed, got %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil log on tracking failure, got %+v", record)
	}
}

func TestLogSuccessUnknownID(t *testing.T) {
	fc := clock.NewFakeClock(testNow())
	tracker, _, node := setupTracker(t, fc)

	if err := tracker.LogSuccess(context.Background(), node.Generate(), "", time.Second); err != domain.ErrLogNotFound {
		t.Fatalf("expected ErrLogNotFound, got %v", err)
	}
}

func TestSequentialSuccessesAccumulateUsage(t *testing.T) {
	fc := clock.NewFakeClock(testNow())
	tracker, db, node := setupTracker(t, fc)
	projectID := node.Generate()
	seedProject(t, db, projectID)
	scope := tenantdomain.ProjectScope(projectID)

	for i := 0; i < 3; i++ {
		record, err := tracker.LogStart(context.Background(), domain.StartRequest{
			Scope:        scope,
			ResourceKind: tenantdomain.ResourceImage,
		})
		if err != nil {
			t.Fatalf("log start %d: %v", i, err)
		}
		if err := tracker.LogSuccess(context.Background(), record.ID, "", time.Second); err != nil {
			t.Fatalf("log success %d: %v", i, err)
		}
	}

	var project tenantdomain.Project
	if err := db.First(&project, "id = ?", projectID).Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if project.ImagesUsed != 3 {
		t.Fatalf("expected 3 images charged, got %d", project.ImagesUsed)
	}
}

func TestListFiltersByScopeAndStatus(t *testing.T) {
	fc := clock.NewFakeClock(testNow())
	tracker, db, node := setupTracker(t, fc)
	projectA := node.Generate()
	projectB := node.Generate()
	seedProject(t, db, projectA)
	seedProject(t, db, projectB)

	for i, scope := range []tenantdomain.TenantScope{
		tenantdomain.ProjectScope(projectA),
		tenantdomain.ProjectScope(projectA),
		tenantdomain.ProjectScope(projectB),
	} {
		fc.Advance(time.Second)
		record, err := tracker.LogStart(context.Background(), domain.StartRequest{
			Scope:        scope,
			ResourceKind: tenantdomain.ResourceArticle,
		})
		if err != nil {
			t.Fatalf("log start %d: %v", i, err)
		}
		if i == 0 {
			if err := tracker.LogSuccess(context.Background(), record.ID, "", time.Second); err != nil {
				t.Fatalf("log success: %v", err)
			}
		}
	}

	resp, err := tracker.List(context.Background(), domain.ListLogsRequest{
		Scope:  tenantdomain.ProjectScope(projectA),
		Status: domain.StatusStarted,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Logs) != 1 {
		t.Fatalf("expected 1 started log for project A, got %d", len(resp.Logs))
	}

	resp, err = tracker.List(context.Background(), domain.ListLogsRequest{
		Scope: tenantdomain.ProjectScope(projectA),
	})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(resp.Logs) != 2 {
		t.Fatalf("expected 2 logs for project A, got %d", len(resp.Logs))
	}
}

func TestStaleStartedReturnsOldLogs(t *testing.T) {
	fc := clock.NewFakeClock(testNow())
	tracker, _, node := setupTracker(t, fc)
	projectID := node.Generate()

	old, err := tracker.LogStart(context.Background(), domain.StartRequest{
		Scope:        tenantdomain.ProjectScope(projectID),
		ResourceKind: tenantdomain.ResourceArticle,
	})
	if err != nil {
		t.Fatalf("log start: %v", err)
	}

	fc.Advance(8 * time.Hour)
	if _, err := tracker.LogStart(context.Background(), domain.StartRequest{
		Scope:        tenantdomain.ProjectScope(projectID),
		ResourceKind: tenantdomain.ResourceArticle,
	}); err != nil {
		t.Fatalf("log start recent: %v", err)
	}

	cutoff := fc.Now().Add(-6 * time.Hour)
	ids, err := tracker.StaleStarted(context.Background(), cutoff, 100)
	if err != nil {
		t.Fatalf("stale started: %v", err)
	}
	if len(ids) != 1 || ids[0] != old.ID {
		t.Fatalf("expected only the old log, got %v", ids)
	}
}
