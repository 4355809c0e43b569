package checker

// Span is the half-open row range [Start, End) handled by one worker.
type Span struct {
	Start, End int
}

// Len is the number of rows in the span.
func (s Span) Len() int { return s.End - s.Start }

// WorkerCount returns how many workers a batch of rows gets: none for an
// empty batch, one when the batch fits within maxWorkers, else maxWorkers.
func WorkerCount(rows, maxWorkers int) int {
	switch {
	case rows <= 0:
		return 0
	case maxWorkers <= 1 || rows <= maxWorkers:
		return 1
	default:
		return maxWorkers
	}
}

// Partition splits rows into workers contiguous spans of rows/workers each;
// the last span also takes the remainder.
func Partition(rows, workers int) []Span {
	if rows <= 0 || workers <= 0 {
		return nil
	}
	step := rows / workers
	spans := make([]Span, workers)
	for i := range spans {
		spans[i] = Span{Start: i * step, End: (i + 1) * step}
	}
	spans[workers-1].End = rows
	return spans
}
