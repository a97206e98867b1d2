package assessment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/intake/intake/internal/domain/funnel"
	"github.com/intake/intake/internal/platform/auth"
	"github.com/intake/intake/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/funnels/:slug/assessments", h.StartOrResume)
	api.GET("/assessments", h.List)
	api.GET("/assessments/:id", h.Get)
	api.GET("/assessments/:id/progress", h.Progress)
	api.POST("/assessments/:id/answers/save", h.SaveAnswer)
	api.POST("/assessments/:id/complete", h.Complete)
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// writeError maps domain errors onto the HTTP error taxonomy. Anything
// unrecognized is a 500.
func writeError(c echo.Context, err error) error {
	var missing *MissingAnswersError
	switch {
	case errors.Is(err, funnel.ErrNotFound), errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "not found"})
	case errors.Is(err, ErrQuestionNotFound):
		return c.JSON(http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "question not found in funnel"})
	case errors.Is(err, ErrForbidden):
		return c.JSON(http.StatusForbidden, errorBody{Code: "FORBIDDEN", Message: "assessment belongs to another patient"})
	case errors.Is(err, funnel.ErrInactive):
		return c.JSON(http.StatusBadRequest, errorBody{Code: "FUNNEL_INACTIVE", Message: "funnel is not accepting assessments"})
	case errors.Is(err, ErrAlreadyCompleted):
		return c.JSON(http.StatusConflict, errorBody{Code: "ALREADY_COMPLETED", Message: "assessment is already completed"})
	case errors.Is(err, ErrStepOrder):
		// Skipping ahead is an authorization failure on the target step, not
		// a validation problem with the payload.
		return c.JSON(http.StatusForbidden, errorBody{Code: "FORBIDDEN", Message: "required questions in earlier steps are unanswered"})
	case errors.As(err, &missing):
		return c.JSON(http.StatusUnprocessableEntity, errorBody{
			Code:    "VALIDATION_ERROR",
			Message: "required questions are unanswered",
			Details: map[string]interface{}{"missing": missing.Missing},
		})
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type startRequest struct {
	ForceNew bool `json:"force_new"`
}

func (h *Handler) StartOrResume(c echo.Context) error {
	patientID := auth.PatientIDFromContext(c.Request().Context())
	if patientID == uuid.Nil {
		return c.JSON(http.StatusForbidden, errorBody{Code: "FORBIDDEN", Message: "no patient identity"})
	}

	var req startRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Code: "VALIDATION_ERROR", Message: err.Error()})
		}
	}

	a, resumed, err := h.svc.StartOrResume(c.Request().Context(), patientID, c.Param("slug"), req.ForceNew)
	if err != nil {
		return writeError(c, err)
	}
	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	return c.JSON(status, map[string]interface{}{
		"assessment": a,
		"resumed":    resumed,
	})
}

func (h *Handler) List(c echo.Context) error {
	patientID := auth.PatientIDFromContext(c.Request().Context())
	if patientID == uuid.Nil {
		return c.JSON(http.StatusForbidden, errorBody{Code: "FORBIDDEN", Message: "no patient identity"})
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	patientID, id, ok := h.identifiers(c)
	if !ok {
		return nil
	}
	a, err := h.svc.Get(c.Request().Context(), patientID, id)
	if err != nil {
		return writeError(c, err)
	}
	answers, err := h.svc.AnswersFor(c.Request().Context(), patientID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"assessment": a,
		"answers":    answers,
	})
}

func (h *Handler) Progress(c echo.Context) error {
	patientID, id, ok := h.identifiers(c)
	if !ok {
		return nil
	}
	p, err := h.svc.Progress(c.Request().Context(), patientID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

type saveAnswerRequest struct {
	QuestionID uuid.UUID   `json:"question_id"`
	Value      interface{} `json:"value"`
}

func (h *Handler) SaveAnswer(c echo.Context) error {
	patientID, id, ok := h.identifiers(c)
	if !ok {
		return nil
	}
	var req saveAnswerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Code: "VALIDATION_ERROR", Message: err.Error()})
	}
	if req.QuestionID == uuid.Nil {
		return c.JSON(http.StatusBadRequest, errorBody{Code: "VALIDATION_ERROR", Message: "question_id is required"})
	}

	a, err := h.svc.SaveAnswer(c.Request().Context(), patientID, id, req.QuestionID, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrQuestionNotFound),
			errors.Is(err, ErrForbidden), errors.Is(err, ErrAlreadyCompleted),
			errors.Is(err, ErrStepOrder), errors.Is(err, funnel.ErrNotFound):
			return writeError(c, err)
		default:
			return c.JSON(http.StatusBadRequest, errorBody{Code: "VALIDATION_ERROR", Message: err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"assessment_id":   a.ID,
		"current_step_id": a.CurrentStepID,
	})
}

func (h *Handler) Complete(c echo.Context) error {
	patientID, id, ok := h.identifiers(c)
	if !ok {
		return nil
	}
	a, err := h.svc.Complete(c.Request().Context(), patientID, id)
	if err != nil {
		return writeError(c, err)
	}
	resp := map[string]interface{}{"assessment": a}
	// Best effort: the completion stands even when the job reference is
	// unavailable.
	if jobID, err := h.svc.ProcessingJobID(c.Request().Context(), a.ID); err == nil && jobID != uuid.Nil {
		resp["processing_job_id"] = jobID
	}
	return c.JSON(http.StatusOK, resp)
}

// identifiers extracts the caller's patient id and the path's assessment id,
// writing the error response itself when either is missing.
func (h *Handler) identifiers(c echo.Context) (patientID, assessmentID uuid.UUID, ok bool) {
	patientID = auth.PatientIDFromContext(c.Request().Context())
	if patientID == uuid.Nil {
		c.JSON(http.StatusForbidden, errorBody{Code: "FORBIDDEN", Message: "no patient identity"})
		return uuid.Nil, uuid.Nil, false
	}
	assessmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Code: "VALIDATION_ERROR", Message: "invalid assessment id"})
		return uuid.Nil, uuid.Nil, false
	}
	return patientID, assessmentID, true
}
