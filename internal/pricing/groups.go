// Package pricing resolves execution prices (group spread applied to the raw
// market quote) and currency conversions into USD. It reads the group spec
// through the groups:{group}:SYMBOL cache with the relational table as the
// source of truth behind it.
package pricing

import (
	"context"
	"errors"

	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/keys"
	"fxcore/internal/model"
	"fxcore/internal/reason"
	"fxcore/internal/store"
)

// FallbackGroup is tried when the user's own group has no row for a symbol.
const FallbackGroup = "Standard"

// Groups is the read-through loader for group trading specs. A nil sql model
// makes it cache-only (tests, and deployments where the cache is pre-seeded).
type Groups struct {
	store store.Store
	sql   model.GroupSymbolsModel
}

func NewGroups(st store.Store, sqlModel model.GroupSymbolsModel) *Groups {
	return &Groups{store: st, sql: sqlModel}
}

// Load resolves the spec for (group, symbol), falling back to the Standard
// group. A total miss after fallback is missing_group_config; callers that
// only need spread data translate that to their own vocabulary.
func (g *Groups) Load(ctx context.Context, group, symbol string) (*model.GroupConfig, error) {
	if group != "" {
		spec, ok, err := g.loadOne(ctx, group, symbol)
		if err != nil {
			return nil, err
		}
		if ok {
			return spec, nil
		}
	}
	if group != FallbackGroup {
		spec, ok, err := g.loadOne(ctx, FallbackGroup, symbol)
		if err != nil {
			return nil, err
		}
		if ok {
			return spec, nil
		}
	}
	return nil, reason.New(reason.MissingGroupConfig, "no group config for (%s, %s)", group, symbol)
}

func (g *Groups) loadOne(ctx context.Context, group, symbol string) (*model.GroupConfig, bool, error) {
	key := keys.GroupSymbolKey(group, symbol)
	m, err := g.store.HGetAll(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if len(m) > 0 {
		spec, err := model.GroupConfigFromHash(group, symbol, m)
		if err != nil {
			return nil, false, err
		}
		return spec, true, nil
	}

	if g.sql == nil {
		return nil, false, nil
	}
	row, err := g.sql.FindOne(ctx, group, symbol)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	spec, err := row.ToGroupConfig()
	if err != nil {
		return nil, false, err
	}
	// Write-back is best effort; the row already answers this call.
	if err := g.store.HSet(ctx, key, row.CacheHash()); err != nil {
		logx.Errorf("group cache write-back (%s, %s): %v", group, symbol, err)
	}
	return spec, true, nil
}
