package domain

import "log/slog"

// StorableBoxes returns the boxes that carry both storage keys, in page order.
// Each skipped box is logged as a warning and a summary is logged per batch.
func StorableBoxes(page ReportPage, sink string, logger *slog.Logger) []ReportBox {
	out := make([]ReportBox, 0, len(page.Boxes))
	skipped := 0
	for i, box := range page.Boxes {
		if !box.HasStorageKeys() {
			skipped++
			logger.Warn("record missing storage key, skipping",
				"sink", sink,
				"station", page.Station,
				"box", i,
				"has_location", box.Location != "",
				"has_datetime", box.DateTime != "",
			)
			continue
		}
		out = append(out, box)
	}
	logger.Info("batch filtered for storage",
		"sink", sink,
		"station", page.Station,
		"storable", len(out),
		"skipped", skipped,
	)
	return out
}
