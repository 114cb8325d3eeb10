package place

import (
	"fmt"
	"math/rand"

	"github.com/vanderheijden86/gridloom/pkg/arch"
	"github.com/vanderheijden86/gridloom/pkg/circuit"
	"github.com/vanderheijden86/gridloom/pkg/timing"
)

// Placer is one stage of the placement sequence. The timing graph may be
// nil for stages that ignore timing.
type Placer interface {
	Name() string
	Place(c *circuit.Circuit, tg *timing.Graph) error
}

// Random assigns every global block to a uniformly random site of its
// type. The same seed always produces the same placement.
type Random struct {
	Seed int64
}

// Name implements Placer.
func (p *Random) Name() string { return "random" }

// Place shuffles the sub-slots of each type's sites and assigns blocks in
// index order.
func (p *Random) Place(c *circuit.Circuit, _ *timing.Graph) error {
	rng := rand.New(rand.NewSource(p.Seed))

	byType := make(map[*arch.BlockType][]*circuit.Block)
	var typeOrder []*arch.BlockType
	for _, b := range c.Blocks {
		c.Unplace(b)
		if _, ok := byType[b.Type]; !ok {
			typeOrder = append(typeOrder, b.Type)
		}
		byType[b.Type] = append(byType[b.Type], b)
	}

	for _, t := range typeOrder {
		blocks := byType[t]

		type slot struct {
			site *circuit.Site
			sub  int
		}
		var slots []slot
		for _, s := range c.Grid.SitesOfType(t) {
			for sub := 0; sub < s.Capacity; sub++ {
				slots = append(slots, slot{site: s, sub: sub})
			}
		}
		if len(slots) < len(blocks) {
			return fmt.Errorf("%w: %d blocks of type %s for %d slots",
				circuit.ErrIllegalPlacement, len(blocks), t.Name, len(slots))
		}
		rng.Shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })

		for i, b := range blocks {
			if err := c.Place(b, slots[i].site, slots[i].sub); err != nil {
				return err
			}
		}
	}

	return c.CheckLegal()
}
