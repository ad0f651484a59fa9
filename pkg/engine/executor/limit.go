package executor

import "context"

func newLimitOperator(input Operator, skip, fetch uint64) Operator {
	// We gradually reduce skipRemaining and fetchRemaining as we process more batches, as the
	// offset and limit may cross batch boundaries.
	var (
		skipRemaining  = skip
		fetchRemaining = fetch
	)

	return newGenericOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
		var (
			start, end uint64
			batch      Batch
		)

		// We skip yielding zero-length batches while skipRemaining > 0
		for end == start {
			// Stop once we reached the limit
			if fetchRemaining == 0 {
				return Batch{}, EOF
			}

			var err error
			if batch, err = inputs[0].Read(ctx); err != nil {
				return Batch{}, err
			}

			// Slice batch so it only contains the rows we're looking for,
			// accounting for both the limit and offset.
			n := uint64(batch.Len())
			start = min(skipRemaining, n)
			end = start + min(fetchRemaining, n-start)

			skipRemaining -= start
			fetchRemaining -= end - start
		}

		return Batch{Columns: batch.Columns, Rows: batch.Rows[start:end]}, nil
	}, input)
}
