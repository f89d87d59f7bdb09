package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/mark77234/Tomo/internal/apperr"
	"github.com/mark77234/Tomo/internal/friends"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opEngineNew        = "scoring.engine.new"
	opRun              = "scoring.run"
	reasonScanFailed   = "scan_failed"
	reasonSharedFailed = "shared_groups_failed"
	reasonUpdateFailed = "update_failed"

	// DefaultBatchSize bounds how many edges are held in memory at once.
	DefaultBatchSize = 10000

	pointsPerWeek  = 5
	pointsPerGroup = 5
	daysPerWeek    = 7
)

var errMissingDatabase = errors.New("scoring: database connection required")

// EngineConfig describes the dependencies of the friendship scoring engine.
type EngineConfig struct {
	Database  *gorm.DB
	Clock     func() time.Time
	Logger    *zap.Logger
	BatchSize int
}

// Engine recomputes every friend edge's friendship score.
type Engine struct {
	db        *gorm.DB
	now       func() time.Time
	logger    *zap.Logger
	batchSize int
}

// RunReport summarizes one recomputation.
type RunReport struct {
	Scanned int
	Updated int
}

// Score is the breakdown stored on an edge: time score in m_score, group score in b_score.
type Score struct {
	Time       int
	Group      int
	Friendship int
}

// NewEngine constructs the scoring engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, apperr.New(apperr.KindInternal, opEngineNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{db: cfg.Database, now: clock, logger: logger, batchSize: batchSize}, nil
}

// Compute derives the score of an edge created on createdOn, evaluated on today.
func Compute(createdOn, today time.Time, sharedGroups int) Score {
	days := int(civil(today).Sub(civil(createdOn)).Hours() / 24)
	if days < 0 {
		days = 0
	}
	timeScore := (days / daysPerWeek) * pointsPerWeek
	groupScore := sharedGroups * pointsPerGroup
	return Score{Time: timeScore, Group: groupScore, Friendship: timeScore + groupScore}
}

// Run recomputes all edges in a single transaction. Any failure rolls the whole run back.
func (e *Engine) Run(ctx context.Context) (RunReport, error) {
	today := time.Time(friends.CivilDate(e.now()))
	started := time.Now()

	var report RunReport
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lastID int64
		for {
			var batch []friends.FriendEdge
			err := tx.Where("id > ?", lastID).Order("id ASC").Limit(e.batchSize).Find(&batch).Error
			if err != nil {
				return apperr.FromStore(opRun, reasonScanFailed, err)
			}
			if len(batch) == 0 {
				return nil
			}
			lastID = batch[len(batch)-1].ID
			report.Scanned += len(batch)

			shared, err := sharedGroupCounts(tx, batch)
			if err != nil {
				return apperr.FromStore(opRun, reasonSharedFailed, err)
			}
			for _, edge := range batch {
				score := Compute(time.Time(edge.CreatedOn), today, shared[pairOf(edge.UserID, edge.FriendUserID)])
				if edge.MScore == score.Time && edge.BScore == score.Group && edge.Friendship == score.Friendship {
					continue
				}
				err := tx.Model(&friends.FriendEdge{}).Where("id = ?", edge.ID).Updates(map[string]interface{}{
					"m_score":    score.Time,
					"b_score":    score.Group,
					"friendship": score.Friendship,
				}).Error
				if err != nil {
					return apperr.FromStore(opRun, reasonUpdateFailed, err)
				}
				report.Updated++
			}
		}
	})
	if err != nil {
		e.logger.Error("friendship scoring aborted",
			zap.String("operation", opRun),
			zap.Int("scanned", report.Scanned),
			zap.Error(err))
		return RunReport{}, err
	}

	e.logger.Info("friendship scoring completed",
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Duration("elapsed", time.Since(started)))
	return report, nil
}

type pair struct {
	user   int64
	friend int64
}

func pairOf(user, friend int64) pair {
	return pair{user: user, friend: friend}
}

type sharedRow struct {
	UserID       int64
	FriendUserID int64
	Shared       int
}

// sharedGroupCounts counts the distinct groups shared by the two ends of each edge in the batch.
// Batches are contiguous in id order, so the id range selects exactly the batch's edges.
func sharedGroupCounts(tx *gorm.DB, batch []friends.FriendEdge) (map[pair]int, error) {
	if len(batch) == 0 {
		return map[pair]int{}, nil
	}

	var rows []sharedRow
	err := tx.Table("friends AS f").
		Select("f.user_id AS user_id, f.friend_user_id AS friend_user_id, COUNT(DISTINCT a.group_id) AS shared").
		Joins("JOIN moim_members AS a ON a.user_id = f.user_id").
		Joins("JOIN moim_members AS b ON b.group_id = a.group_id AND b.user_id = f.friend_user_id").
		Where("f.id BETWEEN ? AND ?", batch[0].ID, batch[len(batch)-1].ID).
		Group("f.user_id, f.friend_user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[pair]int, len(rows))
	for _, row := range rows {
		counts[pairOf(row.UserID, row.FriendUserID)] = row.Shared
	}
	return counts, nil
}

func civil(t time.Time) time.Time {
	return time.Time(friends.CivilDate(t))
}
