package returns

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore/internal/notify"
	"github.com/angelmondragon/marketcore/pkg/actor"
	"github.com/angelmondragon/marketcore/pkg/db"
	"github.com/angelmondragon/marketcore/pkg/db/models"
	"github.com/angelmondragon/marketcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore/pkg/errors"
	"github.com/angelmondragon/marketcore/pkg/logger"
	"github.com/angelmondragon/marketcore/pkg/validation"
)

// CreateRequestInput opens a refund or replacement request for one order
// line. CustomerID falls back to the authenticated actor on ctx.
type CreateRequestInput struct {
	OrderID      uuid.UUID          `json:"order_id" validate:"required"`
	ProductID    uuid.UUID          `json:"product_id" validate:"required"`
	CustomerID   *uuid.UUID         `json:"customer_id"`
	Reason       enums.ReturnReason `json:"reason" validate:"required"`
	Description  string             `json:"description" validate:"max=2000"`
	EvidenceURLs []string           `json:"evidence_urls" validate:"max=5,dive,url"`
}

// Service opens return requests after the eligibility engine clears them.
type Service interface {
	CreateRefundRequest(ctx context.Context, input CreateRequestInput) (*models.RefundRequest, error)
	CreateReplacementRequest(ctx context.Context, input CreateRequestInput) (*models.ReplacementRequest, error)
	GetRefundRequest(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	GetReplacementRequest(ctx context.Context, id uuid.UUID) (*models.ReplacementRequest, error)
}

type service struct {
	engine Engine
	repo   Repository
	events notify.Sink
	logg   *logger.Logger
}

// NewService builds the request service with the required dependencies.
func NewService(engine Engine, repo Repository, events notify.Sink, logg *logger.Logger) (Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("eligibility engine required")
	}
	if repo == nil {
		return nil, fmt.Errorf("request repository required")
	}
	if events == nil {
		return nil, fmt.Errorf("event sink required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{engine: engine, repo: repo, events: events, logg: logg}, nil
}

func (s *service) CreateRefundRequest(ctx context.Context, input CreateRequestInput) (*models.RefundRequest, error) {
	customerID, err := s.prepare(ctx, &input)
	if err != nil {
		return nil, err
	}
	verdict, err := s.engine.Evaluate(ctx, EligibilityInput{
		Kind:       enums.RequestKindRefund,
		OrderID:    input.OrderID,
		ProductID:  input.ProductID,
		CustomerID: customerID,
	})
	if err != nil {
		return nil, err
	}
	if !verdict.Eligible {
		return nil, verdict.Err()
	}

	req := &models.RefundRequest{
		OrderID:            input.OrderID,
		ProductID:          input.ProductID,
		OrderLineID:        verdict.Line.ID,
		CustomerID:         customerID,
		SellerID:           verdict.Line.SellerID,
		Reason:             input.Reason,
		Description:        input.Description,
		EvidenceURLs:       input.EvidenceURLs,
		Status:             enums.RefundRequestStatusPending,
		Quantity:           verdict.Line.Quantity,
		AmountCents:        verdict.RefundAmountCents,
		ShippingShareCents: verdict.ShippingShareCents,
	}
	if err := s.repo.CreateRefund(ctx, req); err != nil {
		if db.IsUniqueViolation(err, RefundOpenIndex) {
			existing, findErr := s.repo.FindOpenRefund(ctx, input.OrderID, input.ProductID)
			if findErr != nil {
				return nil, findErr
			}
			var id *uuid.UUID
			if existing != nil {
				id = &existing.ID
			}
			return nil, duplicate(enums.RequestKindRefund, id)
		}
		return nil, err
	}

	ctx = s.logg.WithRequestRecord(s.logg.WithOrderID(ctx, req.OrderID.String()), string(enums.RequestKindRefund), req.ID.String())
	s.logg.Info(s.logg.WithField(ctx, "amount_cents", req.AmountCents), "refund request created")
	s.events.Dispatch(ctx, notify.RefundRequestCreated(req))
	return req, nil
}

func (s *service) CreateReplacementRequest(ctx context.Context, input CreateRequestInput) (*models.ReplacementRequest, error) {
	customerID, err := s.prepare(ctx, &input)
	if err != nil {
		return nil, err
	}
	verdict, err := s.engine.Evaluate(ctx, EligibilityInput{
		Kind:       enums.RequestKindReplacement,
		OrderID:    input.OrderID,
		ProductID:  input.ProductID,
		CustomerID: customerID,
	})
	if err != nil {
		return nil, err
	}
	if !verdict.Eligible {
		return nil, verdict.Err()
	}

	req := &models.ReplacementRequest{
		OrderID:      input.OrderID,
		ProductID:    input.ProductID,
		OrderLineID:  verdict.Line.ID,
		CustomerID:   customerID,
		SellerID:     verdict.Line.SellerID,
		Reason:       input.Reason,
		Description:  input.Description,
		EvidenceURLs: input.EvidenceURLs,
		Status:       enums.ReplacementRequestStatusPending,
		Quantity:     verdict.Line.Quantity,
	}
	if err := s.repo.CreateReplacement(ctx, req); err != nil {
		if db.IsUniqueViolation(err, ReplacementOpenIndex) {
			existing, findErr := s.repo.FindOpenReplacement(ctx, input.OrderID, input.ProductID)
			if findErr != nil {
				return nil, findErr
			}
			var id *uuid.UUID
			if existing != nil {
				id = &existing.ID
			}
			return nil, duplicate(enums.RequestKindReplacement, id)
		}
		return nil, err
	}

	ctx = s.logg.WithRequestRecord(s.logg.WithOrderID(ctx, req.OrderID.String()), string(enums.RequestKindReplacement), req.ID.String())
	s.logg.Info(ctx, "replacement request created")
	s.events.Dispatch(ctx, notify.ReplacementRequestCreated(req))
	return req, nil
}

func (s *service) GetRefundRequest(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	return s.repo.FindRefund(ctx, id)
}

func (s *service) GetReplacementRequest(ctx context.Context, id uuid.UUID) (*models.ReplacementRequest, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	return s.repo.FindReplacement(ctx, id)
}

// prepare trims and validates the command and resolves the customer.
func (s *service) prepare(ctx context.Context, input *CreateRequestInput) (uuid.UUID, error) {
	input.Description = strings.TrimSpace(input.Description)
	urls := make([]string, 0, len(input.EvidenceURLs))
	for _, u := range input.EvidenceURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	input.EvidenceURLs = urls

	if err := validation.Struct(input); err != nil {
		return uuid.Nil, err
	}
	if !input.Reason.IsValid() {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"reason": "is not a supported return reason"})
	}
	customerID := actor.Resolve(ctx, input.CustomerID)
	if customerID == nil || *customerID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	return *customerID, nil
}

func duplicate(kind enums.RequestKind, existing *uuid.UUID) error {
	details := map[string]any{"code": CodeDuplicateRequest}
	if existing != nil {
		details["existing_request_id"] = existing.String()
	}
	return pkgerrors.New(pkgerrors.CodeDuplicateRequest, fmt.Sprintf("a %s request already exists for this product", kind)).
		WithDetails(details)
}
