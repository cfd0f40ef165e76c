package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/avtotest/exam-backend/internal/middleware"
	"github.com/avtotest/exam-backend/internal/model"
	"github.com/avtotest/exam-backend/internal/response"
	"github.com/avtotest/exam-backend/internal/service"
	"github.com/avtotest/exam-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExamHandler handles exam-taking endpoints.
type ExamHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(sessionService *service.ExamSessionService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "exam_handler").Logger(),
	}
}

// StartExam godoc
// POST /api/v1/exams/start
// Builds a session from a ticket, package, topic or marathon draw.
func (h *ExamHandler) StartExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.sessionService.StartExam(c.Request.Context(), claims.UserID, req, renderer(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusCreated, exam)
}

// GetExam godoc
// GET /api/v1/exams/:session_id
// Re-serves an exam session, e.g. after a page reload.
func (h *ExamHandler) GetExam(c *gin.Context) {
	claims, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	exam, err := h.sessionService.GetExam(c.Request.Context(), claims.UserID, sessionID, renderer(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, exam)
}

// SubmitAnswer godoc
// POST /api/v1/exams/:session_id/answers
// Grades one answer and reveals the correct option.
func (h *ExamHandler) SubmitAnswer(c *gin.Context) {
	claims, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.sessionService.SubmitAnswer(c.Request.Context(), claims.UserID, sessionID, req, ResolveLocale(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// FinishExam godoc
// POST /api/v1/exams/:session_id/finish
// Closes the session and returns the result (idempotent).
func (h *ExamHandler) FinishExam(c *gin.Context) {
	claims, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	result, err := h.sessionService.FinishExam(c.Request.Context(), claims.UserID, sessionID, ResolveLocale(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetStatistics godoc
// GET /api/v1/exams/:session_id/statistics
// Returns detailed statistics of a completed session.
func (h *ExamHandler) GetStatistics(c *gin.Context) {
	claims, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	stats, err := h.sessionService.GetStatistics(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}

// GetExamHistory godoc
// GET /api/v1/exams/history
// Lists the user's sessions, newest first, with optional filters.
func (h *ExamHandler) GetExamHistory(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var filter model.HistoryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, validator.TranslateErrors(err))
		return
	}

	items, pagination, err := h.sessionService.GetExamHistory(c.Request.Context(), claims.UserID, filter, ResolveLocale(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": items}, pagination)
}

// GetPackageStatistics godoc
// GET /api/v1/packages/:package_id/statistics
// Returns the user's historical rollup for one package.
func (h *ExamHandler) GetPackageStatistics(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	packageID, err := strconv.ParseInt(c.Param("package_id"), 10, 64)
	if err != nil || packageID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	stats, err := h.sessionService.GetPackageStatistics(c.Request.Context(), claims.UserID, packageID, ResolveLocale(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}

// sessionParams extracts the caller and the :session_id path parameter,
// writing the error response itself when either is missing.
func sessionParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, sessionID, true
}

// fail maps service errors to API error codes.
func (h *ExamHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidExamRequest):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidExamRequest, map[string]string{"detail": err.Error()})
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrSessionClosed):
		response.Fail(c, http.StatusConflict, response.ErrSessionClosed)
	case errors.Is(err, service.ErrSessionNotFinished):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotFinished)
	case errors.Is(err, service.ErrQuestionNotInSession):
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionNotInSession)
	case errors.Is(err, service.ErrContentNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrContentNotFound)
	case errors.Is(err, service.ErrContentUnavailable):
		h.log.Warn().Err(err).Str("path", c.FullPath()).Msg("Content unavailable")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrContentUnavailable)
	case errors.Is(err, service.ErrConcurrentUpdate):
		response.Fail(c, http.StatusConflict, response.ErrConflict)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
