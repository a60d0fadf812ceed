package scoring

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// memoryStore keeps rows in maps and discards the changes of failed
// transactions.
type memoryStore struct {
	parents       map[uint]uint
	contributions map[Ref]Values
	rows          map[Ref]Values
	failSaveAt    uint
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		parents:       map[uint]uint{},
		contributions: map[Ref]Values{},
		rows:          map[Ref]Values{},
	}
}

func (m *memoryStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{store: m, rows: map[Ref]Values{}}
	for k, v := range m.rows {
		tx.rows[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	m.rows = tx.rows
	return nil
}

type memoryTx struct {
	store *memoryStore
	rows  map[Ref]Values
}

func (tx *memoryTx) LoadOrCreate(ctx context.Context, ref Ref) (Values, error) {
	v, ok := tx.rows[ref]
	if !ok {
		tx.rows[ref] = Values{}
	}
	return v, nil
}

func (tx *memoryTx) Save(ctx context.Context, ref Ref, values Values) error {
	if tx.store.failSaveAt != 0 && ref.NodeID == tx.store.failSaveAt {
		return errors.New("disk full")
	}
	tx.rows[ref] = values
	return nil
}

func (tx *memoryTx) Parent(ctx context.Context, nodeID uint) (uint, bool, error) {
	parent, ok := tx.store.parents[nodeID]
	return parent, ok, nil
}

func (tx *memoryTx) Children(ctx context.Context, nodeID uint) ([]uint, error) {
	var children []uint
	for child, parent := range tx.store.parents {
		if parent == nodeID {
			children = append(children, child)
		}
	}
	return children, nil
}

func (tx *memoryTx) Contribution(ctx context.Context, ref Ref) (Values, error) {
	return tx.store.contributions[ref], nil
}

// chain builds A(1) <- B(2) <- C(3).
func chain() *memoryStore {
	store := newMemoryStore()
	store.parents[2] = 1
	store.parents[3] = 2
	return store
}

func TestSetDiffPropagatesToAncestors(t *testing.T) {
	store := chain()
	tree := NewTree(store, zerolog.Nop())

	require.NoError(t, tree.SetDiff(context.Background(), TotalRef(3), Values{Points: 50}, true))
	require.Equal(t, 50, store.rows[TotalRef(3)].Points)
	require.Equal(t, 50, store.rows[TotalRef(2)].Points)
	require.Equal(t, 50, store.rows[TotalRef(1)].Points)

	require.NoError(t, tree.SetDiff(context.Background(), TotalRef(2), Values{Stars: 1.5}, false))
	require.Equal(t, 1.5, store.rows[TotalRef(2)].Stars)
	require.Equal(t, 0.0, store.rows[TotalRef(1)].Stars)
}

func TestSetDiffKeepsFlavoursApart(t *testing.T) {
	store := chain()
	tree := NewTree(store, zerolog.Nop())

	require.NoError(t, tree.SetDiff(context.Background(), UserRef(9, 3), Values{Points: 10, Score: 10}, true))
	require.Equal(t, Values{Points: 10, Score: 10}, store.rows[UserRef(9, 1)])
	require.NotContains(t, store.rows, TotalRef(1))
	require.NotContains(t, store.rows, UserRef(8, 1))
}

func TestSetDiffZeroDeltaTouchesNothing(t *testing.T) {
	store := chain()
	tree := NewTree(store, zerolog.Nop())

	require.NoError(t, tree.SetDiff(context.Background(), TotalRef(3), Values{}, true))
	require.Empty(t, store.rows)
}

func TestFailedWalkLeavesNoPartialUpdate(t *testing.T) {
	store := chain()
	store.failSaveAt = 1
	tree := NewTree(store, zerolog.Nop())

	err := tree.SetDiff(context.Background(), TotalRef(3), Values{Points: 5}, true)
	require.ErrorContains(t, err, "disk full")
	require.Empty(t, store.rows)
}

func TestSetValuesComputesDelta(t *testing.T) {
	store := chain()
	tree := NewTree(store, zerolog.Nop())
	ctx := context.Background()

	delta, err := tree.SetValues(ctx, TotalRef(3), Values{Points: 100, Score: 100, Stars: 1}, true, false)
	require.NoError(t, err)
	require.Equal(t, Values{Points: 100, Score: 100, Stars: 1}, delta)

	delta, err = tree.SetValues(ctx, TotalRef(3), Values{Points: 60, Score: 60}, true, false)
	require.NoError(t, err)
	require.Equal(t, Values{Points: -40, Score: -40, Stars: -1}, delta)
	require.Equal(t, Values{Points: 60, Score: 60}, store.rows[TotalRef(1)])
}

func TestSetValuesOptimisticNeverDecreases(t *testing.T) {
	store := chain()
	tree := NewTree(store, zerolog.Nop())
	ctx := context.Background()

	_, err := tree.SetValues(ctx, UserRef(1, 3), Values{Points: 80, Stars: 2}, true, true)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		before := store.rows[UserRef(1, 3)]
		_, err := tree.SetValues(ctx, UserRef(1, 3), Values{Points: rng.Intn(120), Score: rng.Intn(120), Stars: float64(rng.Intn(4))}, true, true)
		require.NoError(t, err)
		after := store.rows[UserRef(1, 3)]
		require.GreaterOrEqual(t, after.Points, before.Points)
		require.GreaterOrEqual(t, after.Score, before.Score)
		require.GreaterOrEqual(t, after.Stars, before.Stars)
	}
	require.Equal(t, store.rows[UserRef(1, 3)], store.rows[UserRef(1, 1)])
}

func TestRecomputeTotalIsAdditive(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for round := 0; round < 20; round++ {
		store := newMemoryStore()
		n := 2 + rng.Intn(30)
		for id := 2; id <= n; id++ {
			store.parents[uint(id)] = uint(1 + rng.Intn(id-1))
		}
		for id := 1; id <= n; id++ {
			if rng.Intn(2) == 0 {
				store.contributions[TotalRef(uint(id))] = Values{Points: rng.Intn(100), Score: rng.Intn(100), Stars: float64(rng.Intn(3))}
			}
			// stale values the recomputation must overwrite
			store.rows[TotalRef(uint(id))] = Values{Points: rng.Intn(1000)}
		}

		tree := NewTree(store, zerolog.Nop())
		total, err := tree.RecomputeTotal(context.Background(), TotalRef(1))
		require.NoError(t, err)
		require.Equal(t, store.rows[TotalRef(1)], total)

		for id := 1; id <= n; id++ {
			want := store.contributions[TotalRef(uint(id))]
			for child, parent := range store.parents {
				if parent == uint(id) {
					want = want.Add(store.rows[TotalRef(child)])
				}
			}
			require.Equal(t, want, store.rows[TotalRef(uint(id))], "node %d", id)
		}
	}
}

func TestRecomputeDetectsCycles(t *testing.T) {
	store := newMemoryStore()
	store.parents[1] = 2
	store.parents[2] = 1
	tree := NewTree(store, zerolog.Nop())

	_, err := tree.RecomputeTotal(context.Background(), TotalRef(1))
	require.ErrorContains(t, err, "cycle")

	err = tree.SetDiff(context.Background(), TotalRef(1), Values{Points: 1}, true)
	require.ErrorContains(t, err, "cycle")
}

func TestValuesArithmetic(t *testing.T) {
	v := Values{Points: 3, Score: -2, Stars: -0.5}
	require.Equal(t, Values{Points: 3}, v.NonNegative())
	require.True(t, v.Sub(v).IsZero())
	require.Equal(t, Values{Points: 6, Score: -4, Stars: -1}, v.Add(v))
}
