package compressor

import "imgbatch/internal/statistics"

// Record adds o to stats. ceiling is the size the quality loop aimed for.
func Record(stats *statistics.Statistics, o Outcome, ceiling int64) {
	switch o.Action {
	case ActionCompressed:
		stats.RecordCompressed(o.OriginalSize, o.FinalSize, o.FinalQuality, o.Retries(), o.FinalSize > ceiling)
	case ActionCopied:
		stats.RecordCopied(o.OriginalSize)
	case ActionFailed:
		if o.Err != nil {
			stats.AddError(o.Source, o.Err.Op, o.Err.Kind.String(), o.Err.Err.Error())
		}
	}
}
