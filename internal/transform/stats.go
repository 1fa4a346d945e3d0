package transform

import "imgbatch/internal/statistics"

// Record adds r to stats.
func Record(stats *statistics.Statistics, r Result) {
	if r.Err != nil {
		stats.AddError(r.Source, r.Err.Op, r.Err.Kind.String(), r.Err.Err.Error())
		return
	}
	stats.RecordTransformed()
}
