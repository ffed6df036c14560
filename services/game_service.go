package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/matchpoint-app/results-engine/models"
	"github.com/matchpoint-app/results-engine/repositories"
	"github.com/matchpoint-app/results-engine/results"
)

// ResultsView is the read model served to viewers: the assembled document plus
// the head version a client should use as baseVersion for its next batch.
type ResultsView struct {
	Document    results.Document `json:"document"`
	HeadVersion int              `json:"head_version"`
	ServerTime  time.Time        `json:"server_time"`
}

type GameService interface {
	GetGame(ctx context.Context, gameID int) (*models.Game, error)
	GetResults(ctx context.Context, gameID int) (*ResultsView, error)
}

type gameService struct {
	db       *sql.DB
	gameRepo repositories.GameRepository
	metaRepo repositories.ResultsMetaRepository
	loader   *documentLoader
}

func NewGameService(
	database *sql.DB,
	gameRepo repositories.GameRepository,
	metaRepo repositories.ResultsMetaRepository,
	roundRepo repositories.RoundRepository,
	matchRepo repositories.MatchRepository,
	teamRepo repositories.TeamRepository,
	setRepo repositories.SetRepository,
) GameService {
	return &gameService{
		db:       database,
		gameRepo: gameRepo,
		metaRepo: metaRepo,
		loader:   newDocumentLoader(roundRepo, matchRepo, teamRepo, setRepo),
	}
}

func (s *gameService) GetGame(ctx context.Context, gameID int) (*models.Game, error) {
	game, err := s.gameRepo.GetByID(ctx, s.db, gameID)
	if err != nil {
		if errors.Is(err, repositories.ErrGameNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	return game, nil
}

func (s *gameService) GetResults(ctx context.Context, gameID int) (*ResultsView, error) {
	if _, err := s.GetGame(ctx, gameID); err != nil {
		return nil, err
	}

	var (
		doc  results.Document
		meta *models.ResultsMeta
	)
	// Document assembly and the version read are independent; fetch them
	// concurrently on the pooled connection.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		doc, err = s.loader.load(gctx, s.db, gameID)
		return err
	})
	g.Go(func() error {
		var err error
		meta, err = s.metaRepo.Get(gctx, s.db, gameID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load results for game %d: %w", gameID, err)
	}

	return &ResultsView{
		Document:    doc,
		HeadVersion: meta.Version,
		ServerTime:  time.Now().UTC(),
	}, nil
}

// documentLoader assembles the in-memory tree from the relational projection.
// It runs sequentially so it can also be used on a *sql.Tx.
type documentLoader struct {
	roundRepo repositories.RoundRepository
	matchRepo repositories.MatchRepository
	teamRepo  repositories.TeamRepository
	setRepo   repositories.SetRepository
}

func newDocumentLoader(
	roundRepo repositories.RoundRepository,
	matchRepo repositories.MatchRepository,
	teamRepo repositories.TeamRepository,
	setRepo repositories.SetRepository,
) *documentLoader {
	return &documentLoader{
		roundRepo: roundRepo,
		matchRepo: matchRepo,
		teamRepo:  teamRepo,
		setRepo:   setRepo,
	}
}

func (l *documentLoader) load(ctx context.Context, exec repositories.SQLExecutor, gameID int) (results.Document, error) {
	doc := results.Document{}

	rounds, err := l.roundRepo.ListByGame(ctx, exec, gameID)
	if err != nil {
		return doc, err
	}
	for _, round := range rounds {
		node := results.Round{ID: round.ID}

		matches, err := l.matchRepo.ListByRound(ctx, exec, round.ID)
		if err != nil {
			return doc, err
		}
		for _, match := range matches {
			matchNode := results.NewMatch(match.ID)

			teams, err := l.teamRepo.ListByMatch(ctx, exec, match.ID)
			if err != nil {
				return doc, err
			}
			for _, team := range teams {
				if team.Number != 1 && team.Number != 2 {
					continue
				}
				players, err := l.teamRepo.ListPlayers(ctx, exec, team.ID)
				if err != nil {
					return doc, err
				}
				matchNode.Teams[team.Number-1].Players = players
			}

			sets, err := l.setRepo.ListByMatch(ctx, exec, match.ID)
			if err != nil {
				return doc, err
			}
			for _, set := range sets {
				matchNode.Sets = append(matchNode.Sets, results.Set{
					TeamA: set.TeamAScore,
					TeamB: set.TeamBScore,
				})
			}

			node.Matches = append(node.Matches, matchNode)
		}
		doc.Rounds = append(doc.Rounds, node)
	}
	return doc, nil
}
