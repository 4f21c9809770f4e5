package worker

import (
	"context"
	"time"

	"app/internal/domain/model"
	"app/internal/metrics"
	repo "app/internal/repository"
	"app/internal/usecase"

	"github.com/rs/zerolog"
)

const sweepBatchSize = 100

// Sweeper は放置された匿名カートの予約を回収する。
// 認証済みユーザーのカートには触らない。
type Sweeper struct {
	cartRepo     repo.CartRepository
	cartItemRepo repo.CartItemRepository
	reservation  *usecase.ReservationUsecase
	interval     time.Duration
	maxIdle      time.Duration
	logger       zerolog.Logger
}

func NewSweeper(
	cartRepo repo.CartRepository,
	cartItemRepo repo.CartItemRepository,
	reservation *usecase.ReservationUsecase,
	interval time.Duration,
	maxIdle time.Duration,
	logger zerolog.Logger,
) *Sweeper {
	return &Sweeper{
		cartRepo:     cartRepo,
		cartItemRepo: cartItemRepo,
		reservation:  reservation,
		interval:     interval,
		maxIdle:      maxIdle,
		logger:       logger,
	}
}

// Run は停止が来るまで一定間隔で掃除し続ける。
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("max_idle", s.maxIdle).
		Msg("expiry sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			swept, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("sweep run failed")
				continue
			}
			if swept > 0 {
				s.logger.Info().Int("swept", swept).Msg("released expired carts")
			}
		}
	}
}

// SweepOnce は1回分の掃除。カート単位で失敗を隔離する。
// 1つのカートで解放に失敗しても残りのカートは掃除を続ける。
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	metrics.CartSweeps.Inc()

	cutoff := time.Now().Add(-s.maxIdle)
	carts, err := s.cartRepo.ListExpiredAnonymous(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, c := range carts {
		if err := s.sweepCart(ctx, c); err != nil {
			metrics.CartSweepErrors.Inc()
			s.logger.Error().Err(err).
				Int64("cart_id", c.ID).
				Str("owner_key", c.OwnerKey).
				Msg("failed to sweep cart")
			continue
		}
		metrics.SweptCarts.Inc()
		swept++
	}
	return swept, nil
}

func (s *Sweeper) sweepCart(ctx context.Context, cart model.Cart) error {
	items, err := s.cartItemRepo.ListByCartID(ctx, cart.ID)
	if err != nil {
		return err
	}

	for _, it := range items {
		if !it.HoldsReservation() {
			continue
		}
		// Releaseは商品消失や残不足を飲み込む。DBエラーだけがここに返る
		if err := s.reservation.Release(ctx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}

	if err := s.cartItemRepo.DeleteByCartID(ctx, cart.ID); err != nil {
		return err
	}
	return s.cartRepo.UpdateStatus(ctx, cart.ID, model.CartStatusAbandoned)
}
