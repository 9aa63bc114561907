// Package coalesce groups a device's registers, per function code, into the
// minimum-count block reads that cover every configured register.
package coalesce

import (
	"sort"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/model"
)

// Block is one planned read: count consecutive registers starting at Start,
// of the given register Kind.
type Block struct {
	Kind  model.RegisterKind
	Start uint16
	Count uint16
}

// maxBlockWords is the Modbus 16-bit-register read maximum and maxBlockBits
// the coil/discrete-input read maximum; Plan splits any longer run into
// blocks of at most these sizes before returning it.
const maxBlockWords = 125
const maxBlockBits = 2000

type span struct {
	start uint16
	end   uint16 // exclusive
}

// Plan produces, for each register kind present in registers, the minimal
// list of (start, count) blocks covering every register, oversized runs
// already split at the Modbus 125-register/2000-bit boundary.
func Plan(registers []config.RegisterConfig) []Block {
	byKind := make(map[model.RegisterKind][]span)
	for _, r := range registers {
		width := uint16(r.DataType.WordCount())
		byKind[r.Kind] = append(byKind[r.Kind], span{start: r.Address, end: r.Address + width})
	}

	var blocks []Block
	for kind, spans := range byKind {
		sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

		var runs []span
		cur := spans[0]
		for _, s := range spans[1:] {
			if s.start <= cur.end {
				if s.end > cur.end {
					cur.end = s.end
				}
				continue
			}
			runs = append(runs, cur)
			cur = s
		}
		runs = append(runs, cur)

		limit := uint16(maxBlockWords)
		if kind == model.Coil || kind == model.Discrete {
			limit = maxBlockBits
		}
		for _, run := range runs {
			blocks = append(blocks, splitRun(kind, run, limit)...)
		}
	}

	// Stable, deterministic output ordering: by kind, then start address.
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Kind != blocks[j].Kind {
			return blocks[i].Kind < blocks[j].Kind
		}
		return blocks[i].Start < blocks[j].Start
	})
	return blocks
}

// splitRun breaks a run wider than limit into consecutive blocks of at most
// limit registers/bits each.
func splitRun(kind model.RegisterKind, run span, limit uint16) []Block {
	var out []Block
	start := run.start
	for start < run.end {
		count := run.end - start
		if count > limit {
			count = limit
		}
		out = append(out, Block{Kind: kind, Start: start, Count: count})
		start += count
	}
	return out
}
