package scan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/trovewatch/internal/domain"
)

// Direction selects which end of the sorted registry a traversal starts at.
type Direction int

const (
	// FromRiskiestTail starts at the lowest NICR and walks toward the head.
	FromRiskiestTail Direction = iota
	// FromSafestHead starts at the highest NICR and walks toward the tail.
	FromSafestHead
)

func (d Direction) String() string {
	if d == FromSafestHead {
		return "head"
	}
	return "tail"
}

// ParseDirection maps the config values "tail" and "head".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "tail":
		return FromRiskiestTail, nil
	case "head":
		return FromSafestHead, nil
	}
	return FromRiskiestTail, fmt.Errorf("scan: unknown direction %q: %w", s, domain.ErrInvalidArgument)
}

// Traverser walks the sorted registry one remote read at a time. It keeps no
// state between calls.
type Traverser struct {
	registry domain.SortedRegistry
	logger   *slog.Logger
}

func NewTraverser(registry domain.SortedRegistry, logger *slog.Logger) *Traverser {
	return &Traverser{
		registry: registry,
		logger:   logger.With(slog.String("component", "traversal")),
	}
}

// Traverse returns at most maxCount ids in registry order starting from dir.
// The sentinel is never included. A failing step ends the walk early and the
// partial sequence is returned without error; only a failing head or tail
// read is reported, wrapped in domain.ErrRegistryUnreachable.
func (t *Traverser) Traverse(ctx context.Context, dir Direction, maxCount int) ([]common.Address, error) {
	if maxCount < 0 {
		return nil, fmt.Errorf("scan: traverse: maxCount %d: %w", maxCount, domain.ErrInvalidArgument)
	}
	if maxCount == 0 {
		return []common.Address{}, nil
	}

	start, step := t.registry.GetLast, t.registry.GetPrev
	if dir == FromSafestHead {
		start, step = t.registry.GetFirst, t.registry.GetNext
	}

	current, err := start(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: traverse: read %s: %w: %w", dir, domain.ErrRegistryUnreachable, err)
	}

	ids := make([]common.Address, 0, maxCount)
	for !domain.IsSentinel(current) {
		ids = append(ids, current)
		if len(ids) == maxCount {
			break
		}
		if err := ctx.Err(); err != nil {
			return ids, fmt.Errorf("scan: traverse: %w", err)
		}
		next, err := step(ctx, current)
		if err != nil {
			t.logger.WarnContext(ctx, "traversal stopped early",
				slog.String("after", current.Hex()),
				slog.Int("collected", len(ids)),
				slog.String("error", err.Error()),
			)
			break
		}
		current = next
	}
	return ids, nil
}
