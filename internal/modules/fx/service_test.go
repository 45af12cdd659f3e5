package fx

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/pkg/logger"
)

type stubSource struct {
	rate  *domain.ExchangeRate
	err   error
	calls int
}

func (s *stubSource) GetExchangeRate(ctx context.Context, currency string) (*domain.ExchangeRate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rate, nil
}

func setupService(t *testing.T, source RateSource) *Service {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewService(db.Conn(), source, logger.Nop())
}

func TestRateToKRW(t *testing.T) {
	ctx := context.Background()
	maxAge := 36 * time.Hour

	t.Run("KRW is identity without touching the source", func(t *testing.T) {
		src := &stubSource{}
		s := setupService(t, src)

		rate, err := s.RateToKRW(ctx, "KRW", maxAge)
		require.NoError(t, err)
		assert.Equal(t, 1.0, rate.RateKRW)
		assert.Zero(t, src.calls)
	})

	t.Run("live fetch is recorded and then served from storage", func(t *testing.T) {
		src := &stubSource{rate: &domain.ExchangeRate{
			Currency: "USD", RateKRW: 1350.5, Date: time.Now(),
		}}
		s := setupService(t, src)

		rate, err := s.RateToKRW(ctx, "USD", maxAge)
		require.NoError(t, err)
		assert.Equal(t, 1350.5, rate.RateKRW)
		assert.Equal(t, 1, src.calls)

		// Second call inside the staleness bound hits the table, not the source.
		_, err = s.RateToKRW(ctx, "USD", maxAge)
		require.NoError(t, err)
		assert.Equal(t, 1, src.calls)
	})

	t.Run("stale-but-recent snapshot survives a source outage", func(t *testing.T) {
		src := &stubSource{err: errors.New("broker down")}
		s := setupService(t, src)

		twoDaysAgo := time.Now().AddDate(0, 0, -2)
		require.NoError(t, s.record(&domain.ExchangeRate{
			Currency: "USD", RateKRW: 1340, Date: twoDaysAgo,
		}))

		// 48h old: past maxAge 36h, inside the 72h fallback bound.
		rate, err := s.RateToKRW(ctx, "USD", maxAge)
		require.NoError(t, err)
		assert.Equal(t, 1340.0, rate.RateKRW)
		assert.Equal(t, 1, src.calls)
	})

	t.Run("snapshot past double the bound is a hard failure", func(t *testing.T) {
		src := &stubSource{err: errors.New("broker down")}
		s := setupService(t, src)

		require.NoError(t, s.record(&domain.ExchangeRate{
			Currency: "USD", RateKRW: 1300, Date: time.Now().AddDate(0, 0, -10),
		}))

		_, err := s.RateToKRW(ctx, "USD", maxAge)
		assert.Error(t, err)
	})

	t.Run("no snapshot and no source is a hard failure", func(t *testing.T) {
		s := setupService(t, &stubSource{err: errors.New("broker down")})
		_, err := s.RateToKRW(ctx, "USD", maxAge)
		assert.Error(t, err)
	})
}
