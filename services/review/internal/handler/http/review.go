package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/stoneplatforms/reviewmycoach/pkg/errors"
	"github.com/stoneplatforms/reviewmycoach/pkg/httputil"
	"github.com/stoneplatforms/reviewmycoach/pkg/logger"
	"github.com/stoneplatforms/reviewmycoach/pkg/middleware"
	"github.com/stoneplatforms/reviewmycoach/pkg/pagination"
	"github.com/stoneplatforms/reviewmycoach/pkg/validator"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/service"
)

const maxBodyBytes = 64 << 10

// ReviewHandler handles HTTP requests for review endpoints.
type ReviewHandler struct {
	service *service.ReviewService
	limits  pagination.Limits
	logger  *slog.Logger
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(svc *service.ReviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: svc,
		limits:  pagination.DefaultLimits(),
		logger:  logger,
	}
}

// --- Request / response DTOs ---

// SubmitReviewRequest is the JSON request body for submitting a review.
type SubmitReviewRequest struct {
	Rating     int    `json:"rating" validate:"required,min=1,max=5"`
	ReviewText string `json:"reviewText" validate:"required,notblank,trimmedlen=10-1000"`
	Sport      string `json:"sport" validate:"omitempty,max=200"`
}

// SubmitReviewResponse is returned after a review is stored.
type SubmitReviewResponse struct {
	ReviewID string `json:"reviewId"`
}

// --- Handlers ---

// SubmitReview handles POST /api/v1/coaches/{coachId}/reviews
func (h *ReviewHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	coachID := chi.URLParam(r, "coachId")
	ctx := logger.WithCoachID(r.Context(), coachID)
	r = r.WithContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req SubmitReviewRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	id, err := h.service.SubmitReview(ctx, &service.SubmitInput{
		CoachID:    coachID,
		Rating:     req.Rating,
		Text:       req.ReviewText,
		Sport:      req.Sport,
		Credential: middleware.CredentialFromContext(ctx),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: SubmitReviewResponse{ReviewID: id}})
}

// ListReviews handles GET /api/v1/coaches/{coachId}/reviews?limit=N
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	coachID := chi.URLParam(r, "coachId")

	limit, err := h.limits.FromRequest(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	reviews, err := h.service.ListReviews(r.Context(), coachID, limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: httputil.NewListResponse(reviews)})
}

// GetRating handles GET /api/v1/coaches/{coachId}/rating
func (h *ReviewHandler) GetRating(w http.ResponseWriter, r *http.Request) {
	coachID := chi.URLParam(r, "coachId")
	if coachID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("coachId is required"), h.logger)
		return
	}

	agg, err := h.service.GetRating(r.Context(), coachID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: agg})
}
