package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPosition(ctx context.Context, tenantID, productID string) (Position, error)
	ListMovements(ctx context.Context, tenantID, productID string, limit int) ([]Movement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Ref ties a ledger movement back to its originating document.
type Ref struct {
	Kind string
	ID   string
}

// Service coordinates ledger operations. Every mutation runs in its own
// repeatable-read transaction with the position row locked FOR UPDATE, so
// operations on the same product serialize at the database.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// GetPosition returns the current position for a product.
func (s *Service) GetPosition(ctx context.Context, tenantID, productID string) (Position, error) {
	if tenantID == "" {
		return Position{}, shared.ErrTenantRequired
	}
	if productID == "" {
		return Position{}, errors.New("inventory: product id required")
	}
	return s.repo.GetPosition(ctx, tenantID, productID)
}

// ListMovements returns the movement log for a product.
func (s *Service) ListMovements(ctx context.Context, tenantID, productID string, limit int) ([]Movement, error) {
	if tenantID == "" {
		return nil, shared.ErrTenantRequired
	}
	return s.repo.ListMovements(ctx, tenantID, productID, limit)
}

// Receive posts an inbound restock, increasing total quantity.
func (s *Service) Receive(ctx context.Context, tenantID string, input ReceiveInput) (Position, error) {
	if tenantID == "" {
		return Position{}, shared.ErrTenantRequired
	}
	if input.ProductID == "" {
		return Position{}, errors.New("inventory: product id required")
	}
	if input.Qty <= 0 {
		return Position{}, ErrInvalidQuantity
	}
	pos, err := s.mutate(ctx, tenantID, input.ProductID, MovementReceive, input.Qty, Ref{Kind: "restock"}, input.Note,
		func(pos *Position, qty float64) error {
			pos.TotalQty += qty
			return nil
		})
	if err != nil {
		return Position{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  input.ActorID,
			Action:   "inventory:receive",
			Entity:   "inventory_position",
			EntityID: input.ProductID,
			Meta:     map[string]any{"qty": input.Qty, "note": input.Note},
		})
	}
	return pos, nil
}

// Reserve places a hold for qty of a product. Fails with InsufficientStock
// when available quantity cannot cover the request.
func (s *Service) Reserve(ctx context.Context, tenantID, productID string, qty float64, ref Ref) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	_, err := s.mutate(ctx, tenantID, productID, MovementReserve, qty, ref, "",
		func(pos *Position, qty float64) error {
			if pos.Available() < qty {
				return shared.InsufficientStock(productID, qty, pos.Available())
			}
			pos.ReservedQty += qty
			return nil
		})
	return err
}

// Release returns a hold to available stock. Floored at zero, never fails
// on excess so cancel paths stay idempotent.
func (s *Service) Release(ctx context.Context, tenantID, productID string, qty float64, ref Ref) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	_, err := s.mutate(ctx, tenantID, productID, MovementRelease, qty, ref, "",
		func(pos *Position, qty float64) error {
			pos.ReservedQty -= qty
			if pos.ReservedQty < 0 {
				pos.ReservedQty = 0
			}
			return nil
		})
	return err
}

// Commit consumes a hold permanently: reserved and total both drop by qty.
// A reservation that does not cover qty is a bookkeeping defect upstream
// and fails with ReservationMismatch.
func (s *Service) Commit(ctx context.Context, tenantID, productID string, qty float64, ref Ref) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	_, err := s.mutate(ctx, tenantID, productID, MovementCommit, qty, ref, "",
		func(pos *Position, qty float64) error {
			if pos.ReservedQty < qty {
				return shared.ReservationMismatch(productID, qty, pos.ReservedQty)
			}
			pos.ReservedQty -= qty
			pos.TotalQty -= qty
			return nil
		})
	return err
}

// Restore reverses a commit. Only used to compensate a dispatch update
// that failed after its inventory was already consumed.
func (s *Service) Restore(ctx context.Context, tenantID, productID string, qty float64, ref Ref) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	_, err := s.mutate(ctx, tenantID, productID, MovementRestore, qty, ref, "",
		func(pos *Position, qty float64) error {
			pos.ReservedQty += qty
			pos.TotalQty += qty
			return nil
		})
	return err
}

// ReserveBatch reserves every line or none. On the first failure any lines
// already reserved in this batch are released again before returning.
func (s *Service) ReserveBatch(ctx context.Context, tenantID string, lines []Line, ref Ref) error {
	if tenantID == "" {
		return shared.ErrTenantRequired
	}
	for i, line := range lines {
		if err := s.Reserve(ctx, tenantID, line.ProductID, line.Qty, ref); err != nil {
			s.compensateRelease(ctx, tenantID, lines[:i], ref)
			return err
		}
	}
	return nil
}

// ReleaseBatch releases every line. Individual failures are logged and do
// not stop the remaining lines; release must not fail a cancel.
func (s *Service) ReleaseBatch(ctx context.Context, tenantID string, lines []Line, ref Ref) {
	s.compensateRelease(ctx, tenantID, lines, ref)
}

// CommitBatch commits every line or none. A ReservationMismatch on any line
// restores lines already committed in this batch, then surfaces the error.
func (s *Service) CommitBatch(ctx context.Context, tenantID string, lines []Line, ref Ref) error {
	if tenantID == "" {
		return shared.ErrTenantRequired
	}
	for i, line := range lines {
		if err := s.Commit(ctx, tenantID, line.ProductID, line.Qty, ref); err != nil {
			s.RestoreBatch(ctx, tenantID, lines[:i], ref)
			return err
		}
	}
	return nil
}

// RestoreBatch restores committed lines. Compensation only.
func (s *Service) RestoreBatch(ctx context.Context, tenantID string, lines []Line, ref Ref) {
	for _, line := range lines {
		if err := s.Restore(ctx, tenantID, line.ProductID, line.Qty, ref); err != nil {
			s.logger.Error("inventory restore compensation failed",
				slog.String("tenant_id", tenantID),
				slog.String("product_id", line.ProductID),
				slog.Float64("qty", line.Qty),
				slog.Any("error", err))
		}
	}
}

func (s *Service) compensateRelease(ctx context.Context, tenantID string, lines []Line, ref Ref) {
	for _, line := range lines {
		if err := s.Release(ctx, tenantID, line.ProductID, line.Qty, ref); err != nil {
			s.logger.Error("inventory release failed",
				slog.String("tenant_id", tenantID),
				slog.String("product_id", line.ProductID),
				slog.Float64("qty", line.Qty),
				slog.Any("error", err))
		}
	}
}

func (s *Service) mutate(ctx context.Context, tenantID, productID string, kind MovementKind, qty float64, ref Ref, note string, apply func(*Position, float64) error) (Position, error) {
	if tenantID == "" {
		return Position{}, shared.ErrTenantRequired
	}
	var result Position
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pos, err := tx.GetPositionForUpdate(ctx, tenantID, productID)
		if err != nil && !errors.Is(err, ErrPositionNotFound) {
			return err
		}
		if err := apply(&pos, qty); err != nil {
			return err
		}
		if pos.Available() < 0 {
			return shared.InsufficientStock(productID, qty, pos.Available()+qty)
		}
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, Movement{
			TenantID:  tenantID,
			ProductID: productID,
			Kind:      kind,
			Qty:       qty,
			RefKind:   ref.Kind,
			RefID:     ref.ID,
			Note:      note,
			PostedAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}
		result = pos
		return nil
	})
	if err != nil {
		return Position{}, err
	}
	return result, nil
}
