// Package history reconstructs a conversation's prior turns from the
// gateway's message store. Nothing is cached in process: every request pages
// through the store again.
package history

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"zapgem/internal/domain"
	"zapgem/internal/extract"
)

const (
	defaultMaxPages = 20
	assembleBudget  = 60 * time.Second
)

// Assembler retrieves and chronologically orders prior conversation turns.
type Assembler struct {
	gw       domain.ChatGateway
	maxPages int
	logger   *slog.Logger
}

// AssemblerConfig configures the history assembler.
type AssemblerConfig struct {
	Gateway  domain.ChatGateway
	MaxPages int
	Logger   *slog.Logger
}

// NewAssembler creates a history assembler.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	return &Assembler{
		gw:       cfg.Gateway,
		maxPages: cfg.MaxPages,
		logger:   cfg.Logger,
	}
}

// Assemble pages through the store and returns the conversation's turns,
// oldest first. The store does not guarantee record order across pages, so
// the final sort by timestamp is mandatory: downstream generation quality
// depends on correct chronology.
//
// Failure degrades: any fetch error returns whatever was gathered so far.
// Losing context is preferred over failing the whole request.
func (a *Assembler) Assemble(ctx context.Context, jid string) domain.History {
	ctx, cancel := context.WithTimeout(ctx, assembleBudget)
	defer cancel()

	var turns domain.History
	total := 1

	for page := 1; page <= total && page <= a.maxPages; page++ {
		mp, err := a.gw.FindMessages(ctx, jid, page)
		if err != nil {
			a.logger.Warn("history fetch failed, returning partial context",
				"jid", jid,
				"page", page,
				"gathered", len(turns),
				"err", err,
			)
			break
		}

		// The reported page count is trusted from the first page only.
		// If the store grows mid-fetch, the new tail is picked up on the
		// next request's reassembly.
		if page == 1 && mp.TotalPages > 0 {
			total = mp.TotalPages
		}

		for _, rec := range mp.Records {
			if turn, ok := extract.CanonicalRecord(rec); ok {
				turns = append(turns, turn)
			}
		}
	}

	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].Timestamp.Before(turns[j].Timestamp)
	})

	a.logger.Debug("history assembled", "jid", jid, "turns", len(turns))
	return turns
}
