package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/checkonaut/internal/results"
	"github.com/roach88/checkonaut/internal/store"
)

// record archives a finished run in the database at path. It returns the
// new run's ID, or "" when path is empty.
func (o *RootOptions) record(ctx context.Context, path, command string, args []string, started, finished time.Time, agg *results.Aggregator) (string, error) {
	if path == "" {
		return "", nil
	}

	st, err := store.Open(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer st.Close()

	run := store.NewRun(o.IDs.Generate(), command, args, started, finished.Sub(started), agg)
	if err := st.WriteRun(ctx, &run); err != nil {
		return "", err
	}
	o.Logger.Debug().Str("run", run.ID).Str("db", path).Msg("recorded run")
	return run.ID, nil
}
