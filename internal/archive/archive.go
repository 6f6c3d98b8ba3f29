// Package archive records resolved rounds observed by the store.
package archive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DoyleJ11/jackport-sync/internal/engine"
	"github.com/DoyleJ11/jackport-sync/internal/store"
)

type RoundResult struct {
	RoundAddress string `gorm:"primaryKey"`
	Winner       string `gorm:"not null"`
	ResultHeight int64
	EndTimestamp int64
	PlayerCount  int
	RecordedAt   time.Time `gorm:"autoCreateTime"`
}

type Repository interface {
	SaveResult(ctx context.Context, r RoundResult) error
}

type GormRepository struct {
	db *gorm.DB
}

func Open(dsn string) (*GormRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.AutoMigrate(&RoundResult{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &GormRepository{db: db}, nil
}

// SaveResult inserts r; a round already on record is left untouched.
func (g *GormRepository) SaveResult(ctx context.Context, r RoundResult) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&r).Error
}

func (g *GormRepository) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Source hands out view streams; client.Facade satisfies it.
type Source interface {
	Subscribe(ctx context.Context, id string, buffer int) (<-chan store.View, func(), error)
}

const (
	subscriberID     = "archive"
	subscriberBuffer = 64
)

// Recorder turns a stream of store views into one RoundResult per resolved round.
// A round counts as resolved on the view where the outcome changes to a new
// winner; it is keyed by the round held at that moment.
type Recorder struct {
	repo    Repository
	log     *zap.Logger
	prev    engine.Outcome
	pending *RoundResult
}

func NewRecorder(repo Repository, log *zap.Logger) *Recorder {
	return &Recorder{repo: repo, log: log.Named("archive")}
}

// Run records rounds until ctx ends. When the store drops the recorder as a slow
// subscriber it subscribes again; the first view of the new stream catches up on
// any outcome missed in between.
func (r *Recorder) Run(ctx context.Context, src Source) error {
	for {
		views, unsubscribe, err := src.Subscribe(ctx, subscriberID, subscriberBuffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archive: subscribe: %w", err)
		}
		dropped := r.consume(ctx, views)
		unsubscribe()
		if !dropped {
			return nil
		}
		r.log.Warn("dropped as slow subscriber, subscribing again")
	}
}

// consume reports whether views closed while ctx was still live.
func (r *Recorder) consume(ctx context.Context, views <-chan store.View) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case v, ok := <-views:
			if !ok {
				return ctx.Err() == nil
			}
			r.observe(ctx, v)
		}
	}
}

func (r *Recorder) observe(ctx context.Context, v store.View) {
	outcome := v.State.Outcome
	if outcome.Winner == "" {
		r.pending = nil
	} else if outcome != r.prev {
		if res, ok := resultOf(v); ok {
			r.pending = &res
		}
	}
	r.prev = outcome

	if r.pending == nil {
		return
	}
	res := *r.pending
	if err := r.repo.SaveResult(ctx, res); err != nil {
		r.log.Warn("saving round result", zap.String("round", res.RoundAddress), zap.Error(err))
		return
	}
	r.pending = nil
	r.log.Info("round recorded", zap.String("round", res.RoundAddress), zap.String("winner", res.Winner))
}

func resultOf(v store.View) (RoundResult, bool) {
	game, outcome := v.State.Game, v.State.Outcome
	if !game.Started || game.RoundAddress == "" {
		return RoundResult{}, false
	}
	return RoundResult{
		RoundAddress: game.RoundAddress,
		Winner:       outcome.Winner,
		ResultHeight: outcome.ResultHeight,
		EndTimestamp: game.EndTimestamp,
		PlayerCount:  len(game.Players),
	}, true
}
