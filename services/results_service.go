package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/EagleChen/mapmutex"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/matchpoint-app/results-engine/db"
	"github.com/matchpoint-app/results-engine/models"
	"github.com/matchpoint-app/results-engine/repositories"
	"github.com/matchpoint-app/results-engine/results"
)

// processedOpLedgerLimit bounds the durable idempotency ledger per game. Ops
// older than the last processedOpLedgerLimit entries are only protected by the
// last-batch fast path and the short-lived result cache.
const processedOpLedgerLimit = 512

// PostCommitHook receives the outcome of a committed batch. Hooks run outside
// the transaction and outside the aggregate lock; a failing hook never rolls
// back a committed edit.
type PostCommitHook func(gameID int, result *models.BatchResult, doc results.Document)

type ResultsService interface {
	// Submit applies a batch of operations against the game's results
	// document. Safe to call repeatedly with the same idempotency key.
	Submit(ctx context.Context, gameID, userID int, ops []models.Operation, idempotencyKey string) (*models.BatchResult, error)
	AddPostCommitHook(hook PostCommitHook)
}

type resultsService struct {
	runner    db.TxRunner
	dbExec    repositories.SQLExecutor
	gameRepo  repositories.GameRepository
	metaRepo  repositories.ResultsMetaRepository
	userRepo  repositories.UserRepository
	rating    RatingReverter
	projector *relationalProjector
	loader    *documentLoader

	// locks serializes batches per game; unrelated games proceed in parallel.
	locks *mapmutex.Mutex
	// resultCache absorbs immediate client retries without re-entering the
	// transaction. The processed-op ledger is the durable backstop.
	resultCache *gocache.Cache
	logger      *slog.Logger
	hooks       []PostCommitHook
}

func NewResultsService(
	runner db.TxRunner,
	dbExec repositories.SQLExecutor,
	gameRepo repositories.GameRepository,
	metaRepo repositories.ResultsMetaRepository,
	roundRepo repositories.RoundRepository,
	matchRepo repositories.MatchRepository,
	teamRepo repositories.TeamRepository,
	setRepo repositories.SetRepository,
	userRepo repositories.UserRepository,
	rating RatingReverter,
	cacheTTL time.Duration,
	logger *slog.Logger,
) ResultsService {
	return &resultsService{
		runner:      runner,
		dbExec:      dbExec,
		gameRepo:    gameRepo,
		metaRepo:    metaRepo,
		userRepo:    userRepo,
		rating:      rating,
		projector:   newRelationalProjector(roundRepo, matchRepo, teamRepo, setRepo),
		loader:      newDocumentLoader(roundRepo, matchRepo, teamRepo, setRepo),
		locks:       mapmutex.NewMapMutex(),
		resultCache: gocache.New(cacheTTL, 2*cacheTTL),
		logger:      logger,
	}
}

func (s *resultsService) AddPostCommitHook(hook PostCommitHook) {
	s.hooks = append(s.hooks, hook)
}

// parsedOp pairs an operation with its parsed locator.
type parsedOp struct {
	op  models.Operation
	loc results.Locator
}

func (s *resultsService) Submit(ctx context.Context, gameID, userID int, ops []models.Operation, idempotencyKey string) (*models.BatchResult, error) {
	if len(ops) == 0 {
		return nil, ErrEmptyBatch
	}
	if _, err := uuid.Parse(idempotencyKey); err != nil {
		return nil, ErrInvalidIdempotencyKey
	}
	for _, op := range ops {
		if _, err := uuid.Parse(op.ID); err != nil {
			return nil, ErrInvalidOperationID
		}
	}

	if cached, found := s.resultCache.Get(idempotencyKey); found {
		return cached.(*models.BatchResult), nil
	}

	game, err := s.gameRepo.GetByID(ctx, s.dbExec, gameID)
	if err != nil {
		if errors.Is(err, repositories.ErrGameNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	if err := s.authorize(ctx, game, userID); err != nil {
		return nil, err
	}

	if !s.locks.TryLock(gameID) {
		return nil, ErrResultsBusy
	}
	defer s.locks.Unlock(gameID)

	var (
		result   *models.BatchResult
		finalDoc results.Document
		replayed bool
	)
	err = s.runner.WithinSerializableTx(ctx, func(exec repositories.SQLExecutor) error {
		meta, err := s.metaRepo.GetForUpdate(ctx, exec, gameID)
		if err != nil {
			return err
		}

		// A retry of the last committed batch runs through the normal
		// classification: ledgered ops are acknowledged without re-applying
		// and conflicted ops re-synthesize the same conflicts against the
		// unchanged committed state. Only the hooks are suppressed.
		replayed = meta.LastBatchID != nil && *meta.LastBatchID == idempotencyKey

		doc, err := s.loader.load(ctx, exec, gameID)
		if err != nil {
			return err
		}

		result, finalDoc, err = s.processBatch(ctx, exec, game, meta, doc, ops, idempotencyKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.resultCache.SetDefault(idempotencyKey, result)

	if !replayed {
		for _, hook := range s.hooks {
			go hook(gameID, result, finalDoc)
		}
	}
	return result, nil
}

func (s *resultsService) authorize(ctx context.Context, game *models.Game, userID int) error {
	if game.CreatorID == userID {
		return nil
	}
	user, err := s.userRepo.GetByID(ctx, s.dbExec, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return ErrEditNotAllowed
		}
		return err
	}
	if user.IsAdmin {
		return nil
	}
	if !game.AnyoneCanEdit {
		return ErrEditNotAllowed
	}
	participant, err := s.gameRepo.IsParticipant(ctx, s.dbExec, game.ID, userID)
	if err != nil {
		return err
	}
	if !participant {
		return ErrEditNotAllowed
	}
	return nil
}

func (s *resultsService) processBatch(
	ctx context.Context,
	exec repositories.SQLExecutor,
	game *models.Game,
	meta *models.ResultsMeta,
	doc results.Document,
	ops []models.Operation,
	idempotencyKey string,
) (*models.BatchResult, results.Document, error) {
	now := time.Now().UTC()
	targetVersion := meta.Version + 1

	parsed := make([]parsedOp, 0, len(ops))
	resetRequested := false
	for _, op := range ops {
		loc, err := results.ParsePath(op.Path)
		if err != nil {
			// Malformed path: the op is rejected, the batch continues.
			s.logger.Warn("rejected operation with invalid path",
				slog.Int("game_id", game.ID),
				slog.String("op_id", op.ID),
				slog.String("path", op.Path),
				slog.Any("error", err))
			continue
		}
		parsed = append(parsed, parsedOp{op: op, loc: loc})
		// Only a replace can carry the reset sentinel; any other kind fails
		// in the applier, so it must not trigger outcome reversion either.
		if loc.Kind == results.PathReset && op.Kind == models.OpReplace && !meta.Processed(op.ID) {
			resetRequested = true
		}
	}

	// Reset is all-or-nothing with its batch: outcome side effects are
	// reverted up front, inside the same transaction as the cascade delete.
	if resetRequested {
		if err := s.rating.RevertGameOutcomes(ctx, exec, game.ID); err != nil {
			return nil, doc, err
		}
	}

	applied := make([]string, 0, len(ops))
	conflicts := make([]models.Conflict, 0)
	newlyApplied := 0

	for _, po := range parsed {
		op, loc := po.op, po.loc

		if meta.Processed(op.ID) {
			// Durable idempotency: never re-applied, still reported applied.
			applied = append(applied, op.ID)
			continue
		}

		// The ledger key resolves both positional and id spellings of one
		// element to the same entry, so neither spelling can slip a stale
		// edit past the other.
		key := doc.CanonicalLocator(loc).Key()
		diverged := loc.Kind != results.PathReset && meta.PathVersions[key] > op.BaseVersion

		if diverged {
			res := results.ResolveDiverged(doc, loc, op)
			switch res.Decision {
			case results.DecisionNoop:
				applied = append(applied, op.ID)
				meta.ProcessedOpIDs = append(meta.ProcessedOpIDs, op.ID)
			case results.DecisionConflict:
				conflicts = append(conflicts, *res.Conflict)
			}
			continue
		}

		// Nothing changed at this path since the client's base, so the
		// current state stands in for the base snapshot.
		res, err := results.Resolve(doc, doc, loc, op)
		if err != nil {
			s.logger.Warn("skipped operation that failed to apply",
				slog.Int("game_id", game.ID),
				slog.String("op_id", op.ID),
				slog.String("path", op.Path),
				slog.Any("error", err))
			continue
		}

		switch res.Decision {
		case results.DecisionNoop:
			// Acknowledged and ledgered, but a batch of pure no-ops does
			// not advance the version.
			applied = append(applied, op.ID)
			meta.ProcessedOpIDs = append(meta.ProcessedOpIDs, op.ID)
			continue
		case results.DecisionConflict:
			conflicts = append(conflicts, *res.Conflict)
			continue
		}

		if err := s.projector.project(ctx, exec, game.ID, loc, op); err != nil {
			// Skipped, not fatal: the batch keeps whatever succeeded.
			s.logger.Warn("skipped operation that failed to project",
				slog.Int("game_id", game.ID),
				slog.String("op_id", op.ID),
				slog.String("path", op.Path),
				slog.Any("error", err))
			continue
		}

		doc = res.State
		applied = append(applied, op.ID)
		meta.ProcessedOpIDs = append(meta.ProcessedOpIDs, op.ID)
		meta.PathVersions[key] = targetVersion
		newlyApplied++
	}

	if newlyApplied > 0 {
		meta.Version = targetVersion
	}
	if len(meta.ProcessedOpIDs) > processedOpLedgerLimit {
		meta.ProcessedOpIDs = meta.ProcessedOpIDs[len(meta.ProcessedOpIDs)-processedOpLedgerLimit:]
	}
	meta.LastBatchID = &idempotencyKey
	meta.LastBatchTime = &now
	if err := s.metaRepo.Save(ctx, exec, meta); err != nil {
		return nil, doc, err
	}

	if newlyApplied > 0 {
		resultsStatus := models.ResultsStatusInProgress
		if len(doc.Rounds) == 0 {
			resultsStatus = models.ResultsStatusNone
		}
		status := recomputeGameStatus(game.Status, now, game.StartTime, game.EndTime, resultsStatus)
		if err := s.gameRepo.UpdateStatus(ctx, exec, game.ID, status, resultsStatus); err != nil {
			return nil, doc, err
		}
	}

	return &models.BatchResult{
		Applied:     applied,
		HeadVersion: meta.Version,
		ServerTime:  now,
		Conflicts:   conflicts,
	}, doc, nil
}
