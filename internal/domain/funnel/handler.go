package funnel

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	// Public read, any authenticated caller
	api.GET("/funnels/:slug", h.GetFunnelBySlug)

	// Catalog management is admin only
	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.GET("/funnels", h.ListFunnels)
	adminGroup.POST("/funnels", h.CreateFunnel)
	adminGroup.POST("/funnels/:id/activate", h.ActivateFunnel)
	adminGroup.POST("/funnels/:id/retire", h.RetireFunnel)
	adminGroup.POST("/funnels/:id/steps", h.AddStep)
	adminGroup.POST("/steps/:id/questions", h.AddQuestion)
	adminGroup.POST("/questions/:id/rules", h.AddRule)
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func isAdmin(c echo.Context) bool {
	for _, role := range auth.RolesFromContext(c.Request().Context()) {
		if role == "admin" {
			return true
		}
	}
	return false
}

func (h *Handler) GetFunnelBySlug(c echo.Context) error {
	f, err := h.svc.GetFunnelBySlug(c.Request().Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "funnel not found"})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// Drafts and retired funnels are admin-only; to everyone else they do
	// not exist.
	if f.Status != StatusActive && !isAdmin(c) {
		return c.JSON(http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "funnel not found"})
	}

	def, err := h.svc.Definition(c.Request().Context(), f.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	steps := make([]map[string]interface{}, 0, len(def.Steps))
	for _, st := range def.Steps {
		steps = append(steps, map[string]interface{}{
			"id":            st.ID,
			"order_index":   st.OrderIndex,
			"title":         st.Title,
			"has_questions": st.HasQuestions,
			"questions":     def.QuestionsForStep(st.ID),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"funnel": f,
		"steps":  steps,
	})
}

func (h *Handler) ListFunnels(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListFunnels(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateFunnel(c echo.Context) error {
	var f Funnel
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateFunnel(c.Request().Context(), &f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) ActivateFunnel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Activate(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "funnel not found"})
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RetireFunnel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Retire(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "funnel not found"})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddStep(c echo.Context) error {
	funnelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var st Step
	if err := c.Bind(&st); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st.FunnelID = funnelID
	if err := h.svc.AddStep(c.Request().Context(), &st); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) AddQuestion(c echo.Context) error {
	stepID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var q Question
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q.StepID = stepID
	if err := h.svc.AddQuestion(c.Request().Context(), &q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *Handler) AddRule(c echo.Context) error {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var r ConditionalRule
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.QuestionID = questionID
	r.Active = true
	if err := h.svc.AddRule(c.Request().Context(), &r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, r)
}
