package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/internal/shortterm"
	"github.com/Modzer0/Brain-sub000/internal/store"
)

// AddAssociation links a and b in both directions, in whichever tier holds
// each. Both ids must exist. The two writes are independent; an interrupted
// pair leaves an asymmetric edge that coherence validation reports.
func (m *Manager) AddAssociation(ctx context.Context, a, b string) error {
	const op = "add association"
	if err := m.checkPair(ctx, op, a, b); err != nil {
		return err
	}
	if _, err := m.link(ctx, a, []string{b}); err != nil {
		return m.fail(op, err)
	}
	if _, err := m.link(ctx, b, []string{a}); err != nil {
		return m.fail(op, err)
	}
	m.operations.Add(1)
	m.logger.Debug("memory: associated", "a", a, "b", b)
	return nil
}

// RemoveAssociation unlinks a and b in both directions and both tiers.
func (m *Manager) RemoveAssociation(ctx context.Context, a, b string) error {
	const op = "remove association"
	if err := m.checkPair(ctx, op, a, b); err != nil {
		return err
	}
	if err := m.unlink(ctx, a, b); err != nil {
		return m.fail(op, err)
	}
	if err := m.unlink(ctx, b, a); err != nil {
		return m.fail(op, err)
	}
	m.operations.Add(1)
	return nil
}

func (m *Manager) checkPair(ctx context.Context, op, a, b string) error {
	if a == "" || b == "" {
		return m.invalid(op, "both ids are required")
	}
	if a == b {
		return m.invalid(op, "cannot associate %s with itself", a)
	}
	for _, id := range []string{a, b} {
		_, ok, err := m.lookup(ctx, id)
		if err != nil {
			return m.fail(op, err)
		}
		if !ok {
			return m.fail(op, fmt.Errorf("%w: %s", ErrNotFound, id))
		}
	}
	return nil
}

// link unions ids into id's associations in every tier that holds id.
func (m *Manager) link(ctx context.Context, id string, ids []string) (bool, error) {
	updated := false
	if err := m.short.UpdateAssociations(id, ids); err == nil {
		updated = true
	} else if !errors.Is(err, shortterm.ErrNotFound) {
		return false, err
	}
	if err := m.long.UpdateAssociations(ctx, id, ids); err == nil {
		updated = true
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	return updated, nil
}

func (m *Manager) unlink(ctx context.Context, id, target string) error {
	if err := m.short.RemoveAssociation(id, target); err != nil && !errors.Is(err, shortterm.ErrNotFound) {
		return err
	}
	it, err := m.long.Retrieve(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if !it.RemoveAssociation(target) {
		return nil
	}
	return m.long.StoreCompressed(ctx, *it)
}

// GetAssociatedMemories walks the association graph breadth-first from id for
// up to maxDepth hops. Each hop follows stored associations and inverse
// lookups in both tiers. The start item is not included. The walk stops early
// when ctx is cancelled.
func (m *Manager) GetAssociatedMemories(ctx context.Context, id string, maxDepth int) ([]models.MemoryItem, error) {
	const op = "get associated memories"
	if id == "" {
		return nil, m.invalid(op, "memory id is required")
	}
	if maxDepth < 0 {
		return nil, m.invalid(op, "max depth must be >= 0")
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	var out []models.MemoryItem

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			if err := ctx.Err(); err != nil {
				return out, m.fail(op, err)
			}
			neighbors, err := m.neighbors(ctx, node)
			if err != nil {
				return out, m.fail(op, err)
			}
			for _, nb := range neighbors {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				loc, ok, err := m.lookup(ctx, nb)
				if err != nil {
					return out, m.fail(op, err)
				}
				if !ok {
					continue
				}
				out = append(out, loc.Item)
				next = append(next, nb)
			}
		}
		frontier = next
	}
	m.operations.Add(1)
	return out, nil
}

// neighbors returns ids adjacent to id: its stored associations in either
// tier plus every item in either tier that lists id.
func (m *Manager) neighbors(ctx context.Context, id string) ([]string, error) {
	var out []string
	add := func(ids ...string) {
		for _, n := range ids {
			if n != id && n != "" {
				out = append(out, n)
			}
		}
	}

	if it, ok := m.short.Get(id); ok {
		add(it.Associations...)
	}
	it, err := m.long.Retrieve(ctx, id)
	switch {
	case err == nil:
		add(it.Associations...)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	for _, inv := range m.short.GetByAssociation(id) {
		add(inv.ID)
	}
	inverse, err := m.long.GetByAssociation(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, inv := range inverse {
		add(inv.ID)
	}
	return out, nil
}
