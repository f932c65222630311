package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"linkrec/config"
	"linkrec/models"
	"linkrec/providers"
	"linkrec/searchindex/searchindextest"
	"linkrec/storage"
	"linkrec/wiki/wikitest"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const article = "Paris is the capital of France and home to the Eiffel Tower."

type fixture struct {
	ctx      context.Context
	wiki     *wikitest.Wiki
	store    *storage.Store
	sink     *searchindextest.Sink
	provider *providers.StaticProvider
	tt       *config.LinkTaskType
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "services.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	w := wikitest.New()
	old := now.Add(-48 * time.Hour)
	w.AddPage(10, "Eiffel Tower", 100, article, old)
	w.AddPage(20, "France", 200, "France is a country.", old)
	w.AddPage(30, "Paris", 300, "Paris is a city.", old)

	store := storage.NewStore(db, nil, w, zap.NewNop())
	require.NoError(t, store.AutoMigrate())

	return &fixture{
		ctx:      context.Background(),
		wiki:     w,
		store:    store,
		sink:     &searchindextest.Sink{},
		provider: providers.NewStaticProvider(),
		tt: &config.LinkTaskType{
			MinimumLinkScore:                 0.5,
			MinimumLinksPerTask:              2,
			MaximumLinksToShowPerTask:        3,
			MinimumWordCount:                 5,
			MaximumWordCount:                 100,
			ExcludedTargetRejectionThreshold: 3,
			MinimumTimeSinceLastEdit:         24 * time.Hour,
			PruneRedLinks:                    true,
		},
	}
}

func (f *fixture) evaluator() *Evaluator {
	e := NewEvaluator(f.wiki, f.provider, f.store, f.sink, f.tt, zap.NewNop())
	e.Now = func() time.Time { return now }
	return e
}

func link(text, target string, score float64, index int) models.Link {
	return models.Link{Text: text, Target: target, MatchIndex: 1, Score: score, LinkIndex: index}
}

func candidate(revID int64, links ...models.Link) *models.Recommendation {
	return models.NewRecommendation("Eiffel Tower", 10, revID, links, models.Metadata{ApplicationVersion: "test"})
}

// inlineDeferrer führt Aufgaben sofort aus.
type inlineDeferrer struct {
	mu     sync.Mutex
	errors []error
}

func (d *inlineDeferrer) Submit(_ string, fn Task) {
	err := fn(context.Background())
	d.mu.Lock()
	d.errors = append(d.errors, err)
	d.mu.Unlock()
}

// heldDeferrer sammelt Aufgaben, bis der Test sie ausführt.
type heldDeferrer struct {
	names []string
	tasks []Task
}

func (d *heldDeferrer) Submit(name string, fn Task) {
	d.names = append(d.names, name)
	d.tasks = append(d.tasks, fn)
}

func (d *heldDeferrer) runAll(ctx context.Context) []error {
	var errs []error
	for _, fn := range d.tasks {
		errs = append(errs, fn(ctx))
	}
	return errs
}
