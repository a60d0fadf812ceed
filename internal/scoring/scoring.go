// Package scoring propagates points, score and stars through the content
// tree. Two flavours share the algorithm: totals available under a node and
// totals a user earned under a node.
package scoring

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/internal/observability"
)

// Flavour selects which score rows a reference addresses.
type Flavour int

const (
	// FlavourTotal addresses one row per content node.
	FlavourTotal Flavour = iota
	// FlavourUser addresses one row per user and content node.
	FlavourUser
)

func (f Flavour) String() string {
	if f == FlavourUser {
		return "user"
	}
	return "total"
}

// Ref identifies a score row.
type Ref struct {
	Flavour Flavour
	NodeID  uint
	UserID  uint
}

// TotalRef addresses the aggregate row of a node.
func TotalRef(nodeID uint) Ref {
	return Ref{Flavour: FlavourTotal, NodeID: nodeID}
}

// UserRef addresses the row of a user under a node.
func UserRef(userID, nodeID uint) Ref {
	return Ref{Flavour: FlavourUser, NodeID: nodeID, UserID: userID}
}

// WithNode returns the same flavour and user pointed at another node.
func (r Ref) WithNode(nodeID uint) Ref {
	r.NodeID = nodeID
	return r
}

// Values are the accumulated quantities of a score row.
type Values struct {
	Points int
	Score  int
	Stars  float64
}

// IsZero reports whether every quantity is zero.
func (v Values) IsZero() bool {
	return v.Points == 0 && v.Score == 0 && v.Stars == 0
}

// Add returns v + o.
func (v Values) Add(o Values) Values {
	return Values{Points: v.Points + o.Points, Score: v.Score + o.Score, Stars: v.Stars + o.Stars}
}

// Sub returns v - o.
func (v Values) Sub(o Values) Values {
	return Values{Points: v.Points - o.Points, Score: v.Score - o.Score, Stars: v.Stars - o.Stars}
}

// NonNegative clamps every quantity at zero.
func (v Values) NonNegative() Values {
	return Values{Points: max(v.Points, 0), Score: max(v.Score, 0), Stars: max(v.Stars, 0)}
}

// Tx is the transactional view of score storage used during one walk.
// LoadOrCreate must lock the row until the transaction ends.
type Tx interface {
	LoadOrCreate(ctx context.Context, ref Ref) (Values, error)
	Save(ctx context.Context, ref Ref, values Values) error
	Parent(ctx context.Context, nodeID uint) (uint, bool, error)
	Children(ctx context.Context, nodeID uint) ([]uint, error)
	Contribution(ctx context.Context, ref Ref) (Values, error)
}

// Store opens transactions over score storage.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tree applies score updates. Every public operation runs in a single
// transaction so a failing ancestor aborts the whole walk.
type Tree struct {
	store  Store
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewTree constructs a score tree over store.
func NewTree(store Store, logger zerolog.Logger) *Tree {
	return &Tree{
		store:  store,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/internal/scoring"),
		logger: logger.With().Str("component", "score_tree").Logger(),
	}
}

// SetDiff adds delta to the row and, when propagate is set, to every
// ancestor of its node.
func (t *Tree) SetDiff(ctx context.Context, ref Ref, delta Values, propagate bool) error {
	if delta.IsZero() {
		return nil
	}
	return t.run(ctx, "scoring.set_diff", ref, func(tx Tx) error {
		return applyDiff(ctx, tx, ref, delta, propagate)
	})
}

// SetValues moves the row to values and propagates the resulting delta. In
// optimistic mode no quantity ever decreases. It returns the applied delta.
func (t *Tree) SetValues(ctx context.Context, ref Ref, values Values, propagate, optimistic bool) (Values, error) {
	var delta Values
	err := t.run(ctx, "scoring.set_values", ref, func(tx Tx) error {
		current, err := tx.LoadOrCreate(ctx, ref)
		if err != nil {
			return err
		}
		delta = values.Sub(current)
		if optimistic {
			delta = delta.NonNegative()
		}
		if delta.IsZero() {
			return nil
		}
		return applyDiff(ctx, tx, ref, delta, propagate)
	})
	if err != nil {
		return Values{}, err
	}
	return delta, nil
}

// RecomputeTotal rebuilds the subtree rooted at ref bottom-up: every row
// becomes its node's own contribution plus the totals of its children.
func (t *Tree) RecomputeTotal(ctx context.Context, ref Ref) (Values, error) {
	var total Values
	err := t.run(ctx, "scoring.recompute_total", ref, func(tx Tx) error {
		var err error
		total, err = recompute(ctx, tx, ref, map[uint]bool{})
		return err
	})
	if err != nil {
		return Values{}, err
	}
	return total, nil
}

// Load returns the current values of a row, creating it when missing.
func (t *Tree) Load(ctx context.Context, ref Ref) (Values, error) {
	var values Values
	err := t.store.Transaction(ctx, func(tx Tx) error {
		var err error
		values, err = tx.LoadOrCreate(ctx, ref)
		return err
	})
	return values, err
}

func (t *Tree) run(ctx context.Context, op string, ref Ref, fn func(tx Tx) error) error {
	ctx, span := t.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("score.flavour", ref.Flavour.String()),
		attribute.Int64("score.node_id", int64(ref.NodeID)),
	))
	defer span.End()

	err := t.store.Transaction(ctx, fn)
	if err != nil {
		observability.Propagations().WithLabelValues(ref.Flavour.String(), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Error().Err(err).
			Str("operation", op).
			Str("flavour", ref.Flavour.String()).
			Uint("node_id", ref.NodeID).
			Uint("user_id", ref.UserID).
			Msg("score update aborted")
		return err
	}
	observability.Propagations().WithLabelValues(ref.Flavour.String(), "ok").Inc()
	return nil
}

func applyDiff(ctx context.Context, tx Tx, ref Ref, delta Values, propagate bool) error {
	visited := map[uint]bool{}
	node := ref
	for {
		if visited[node.NodeID] {
			return fmt.Errorf("content tree has a cycle at node %d", node.NodeID)
		}
		visited[node.NodeID] = true

		current, err := tx.LoadOrCreate(ctx, node)
		if err != nil {
			return fmt.Errorf("load score of node %d: %w", node.NodeID, err)
		}
		if err := tx.Save(ctx, node, current.Add(delta)); err != nil {
			return fmt.Errorf("save score of node %d: %w", node.NodeID, err)
		}
		if !propagate {
			return nil
		}

		parentID, ok, err := tx.Parent(ctx, node.NodeID)
		if err != nil {
			return fmt.Errorf("parent of node %d: %w", node.NodeID, err)
		}
		if !ok {
			return nil
		}
		node = node.WithNode(parentID)
	}
}

func recompute(ctx context.Context, tx Tx, ref Ref, visited map[uint]bool) (Values, error) {
	if visited[ref.NodeID] {
		return Values{}, fmt.Errorf("content tree has a cycle at node %d", ref.NodeID)
	}
	visited[ref.NodeID] = true

	if _, err := tx.LoadOrCreate(ctx, ref); err != nil {
		return Values{}, fmt.Errorf("load score of node %d: %w", ref.NodeID, err)
	}

	total, err := tx.Contribution(ctx, ref)
	if err != nil {
		return Values{}, fmt.Errorf("contribution of node %d: %w", ref.NodeID, err)
	}

	children, err := tx.Children(ctx, ref.NodeID)
	if err != nil {
		return Values{}, fmt.Errorf("children of node %d: %w", ref.NodeID, err)
	}
	for _, childID := range children {
		child, err := recompute(ctx, tx, ref.WithNode(childID), visited)
		if err != nil {
			return Values{}, err
		}
		total = total.Add(child)
	}

	if err := tx.Save(ctx, ref, total); err != nil {
		return Values{}, fmt.Errorf("save score of node %d: %w", ref.NodeID, err)
	}
	return total, nil
}
