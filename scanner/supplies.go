package scanner

import (
	"context"

	"printmaster/telemetry/common/logger"
	"printmaster/telemetry/common/snmp/oids"
	"printmaster/telemetry/supplies"
	"printmaster/telemetry/util"
)

const defaultSupplySlots = 8

// SupplyReading is one classified colorant slot of prtMarkerSuppliesTable.
type SupplyReading struct {
	Slot        int    `json:"slot"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Type        int    `json:"type"`
	Level       int64  `json:"level"`
	Max         int64  `json:"max"`
	Percent     int    `json:"percent"` // -1 when unknown
}

// DiscoverSupplies scans supply slots 1..slots. Only slots whose supply type
// is a colorant (or other/unknown with a colour-bearing description) and
// whose description classifies as black/cyan/magenta/yellow are kept; drums,
// fusers and waste containers never reach the level read. Level and max are
// fetched for the kept slots only.
func DiscoverSupplies(ctx context.Context, sess *Session, slots int) ([]SupplyReading, error) {
	if slots <= 0 {
		slots = defaultSupplySlots
	}

	var meta []string
	for slot := 1; slot <= slots; slot++ {
		meta = append(meta,
			oids.SupplyRow(oids.PrtMarkerSuppliesType, slot),
			oids.SupplyRow(oids.PrtMarkerSuppliesDesc, slot),
		)
	}
	vals, err := sess.Get(ctx, meta)
	if err != nil {
		return nil, err
	}

	var kept []SupplyReading
	for slot := 1; slot <= slots; slot++ {
		desc := textValue(vals, oids.SupplyRow(oids.PrtMarkerSuppliesDesc, slot))
		typ, hasType := numeric(vals, oids.SupplyRow(oids.PrtMarkerSuppliesType, slot))
		if desc == "" && !hasType {
			continue
		}

		colorant := supplies.IsColorantType(int(typ))
		if hasType && !colorant && typ != oids.SupplyTypeOther && typ != oids.SupplyTypeUnknown {
			if logger.Global != nil {
				logger.Global.TraceTag("supplies", "Skipping non-colorant slot", "ip", sess.Address, "slot", slot, "type", typ, "desc", desc)
			}
			continue
		}

		color := supplies.ClassifyColor(desc)
		if color == supplies.None {
			continue
		}
		kept = append(kept, SupplyReading{Slot: slot, Description: desc, Color: color.String(), Type: int(typ), Level: -1, Max: -1, Percent: -1})
	}
	if len(kept) == 0 {
		return nil, nil
	}

	var levels []string
	for _, r := range kept {
		levels = append(levels,
			oids.SupplyRow(oids.PrtMarkerSuppliesLevel, r.Slot),
			oids.SupplyRow(oids.PrtMarkerSuppliesMaxCap, r.Slot),
		)
	}
	lv, err := sess.Get(ctx, levels)
	if err != nil {
		return kept, err
	}
	for i := range kept {
		if v, ok := numeric(lv, oids.SupplyRow(oids.PrtMarkerSuppliesLevel, kept[i].Slot)); ok {
			kept[i].Level = v
		}
		if v, ok := numeric(lv, oids.SupplyRow(oids.PrtMarkerSuppliesMaxCap, kept[i].Slot)); ok {
			kept[i].Max = v
		}
		kept[i].Percent = util.Percent(kept[i].Level, kept[i].Max)
		// Some agents report the level as a percentage with max unknown.
		if kept[i].Percent < 0 && kept[i].Max <= 0 && kept[i].Level >= 0 && kept[i].Level <= 100 {
			kept[i].Percent = int(kept[i].Level)
		}
	}
	return kept, nil
}

// ReadColorants returns the non-empty prtMarkerColorantValue entries for
// indexes 1..slots, in index order.
func ReadColorants(ctx context.Context, sess *Session, table string, slots int) ([]string, error) {
	if table == "" {
		table = oids.PrtMarkerColorantValue
	}
	return readColumn(ctx, sess, table, slots)
}

// ReadSupplyDescriptions returns every non-empty supply description for slots 1..slots.
func ReadSupplyDescriptions(ctx context.Context, sess *Session, table string, slots int) ([]string, error) {
	if table == "" {
		table = oids.PrtMarkerSuppliesDesc
	}
	return readColumn(ctx, sess, table, slots)
}

func readColumn(ctx context.Context, sess *Session, column string, slots int) ([]string, error) {
	if slots <= 0 {
		slots = defaultSupplySlots
	}
	rows := make([]string, 0, slots)
	for i := 1; i <= slots; i++ {
		rows = append(rows, oids.SupplyRow(column, i))
	}
	vals, err := sess.Get(ctx, rows)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, oid := range rows {
		if s := textValue(vals, oid); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
