// Package server wires the HTTP API: supporter-facing pledge and profile
// routes, the operator-only trigger routes, and the operational endpoints.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pledgefund/backend/internal/auth"
	"github.com/pledgefund/backend/internal/executor"
	"github.com/pledgefund/backend/internal/middleware"
	"github.com/pledgefund/backend/internal/models"
	"github.com/pledgefund/backend/internal/service"
	"github.com/pledgefund/backend/internal/storage"
)

type handler struct {
	pledges  *service.PledgeService
	triggers *service.TriggerService
	profiles *service.ProfileService
}

// MakeHandlers builds the HTTP handler tree.
func MakeHandlers(
	pledges *service.PledgeService,
	triggers *service.TriggerService,
	profiles *service.ProfileService,
	jwtManager *auth.JWTManager,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	h := handler{pledges: pledges, triggers: triggers, profiles: profiles}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/pledge-options", h.pledgeOptions)

		v1.POST("/profiles", h.createProfile)
		v1.POST("/profiles/find", h.findProfileByCard)
		v1.GET("/profiles/:id/notifications", h.listNotifications)
		v1.POST("/notifications/:id/ack", h.acknowledgeNotification)

		v1.POST("/pledges", h.createPledge)
		v1.GET("/pledges/:id", h.getPledge)
		v1.DELETE("/pledges/:id", h.cancelPledge)

		v1.GET("/triggers/:id", h.getTrigger)
		v1.GET("/payers/:profile_id/summary", h.payerSummary)
	}

	operator := v1.Group("")
	operator.Use(middleware.RequireOperator(jwtManager))
	{
		operator.POST("/triggers", h.createTrigger)
		operator.POST("/triggers/:id/resolve", h.resolveTrigger)
	}

	return r
}

// fail maps domain errors onto HTTP statuses. Unrecognized errors are
// internal and their details stay out of the response body.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, executor.ErrInvalidOutcome):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrTriggerNotOpen),
		errors.Is(err, storage.ErrTooLate),
		errors.Is(err, storage.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h handler) pledgeOptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"min_amount":        h.pledges.MinPledge(),
		"suggested_amounts": h.pledges.SuggestedAmounts(),
	})
}

type createProfileRequest struct {
	NameFirst    string `json:"name_first"`
	NameLast     string `json:"name_last"`
	Address      string `json:"address"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zip          string `json:"zip"`
	Employer     string `json:"employer"`
	Occupation   string `json:"occupation"`
	CardNumber   string `json:"card_number"`
	GatewayToken string `json:"gateway_token"`
}

func (h handler) createProfile(c *gin.Context) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	profile, err := h.profiles.CreateProfile(c.Request.Context(), &service.ProfileInput{
		NameFirst:    req.NameFirst,
		NameLast:     req.NameLast,
		Address:      req.Address,
		City:         req.City,
		State:        req.State,
		Zip:          req.Zip,
		Employer:     req.Employer,
		Occupation:   req.Occupation,
		CardNumber:   req.CardNumber,
		GatewayToken: req.GatewayToken,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, profileJSON(profile))
}

type findProfileRequest struct {
	CardNumber string `json:"card_number"`
}

// findProfileByCard is a POST so the card number travels in the body, never
// in a URL or access log.
func (h handler) findProfileByCard(c *gin.Context) {
	var req findProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	profile, err := h.profiles.FindByCard(c.Request.Context(), req.CardNumber)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profileJSON(profile))
}

func (h handler) listNotifications(c *gin.Context) {
	notifications, err := h.profiles.Notifications(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notificationsJSON(notifications)})
}

func (h handler) acknowledgeNotification(c *gin.Context) {
	notifications, err := h.profiles.AcknowledgeNotification(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notificationsJSON(notifications)})
}

type createPledgeRequest struct {
	TriggerID   string `json:"trigger_id"`
	ProfileID   string `json:"profile_id"`
	Amount      int64  `json:"amount"`
	TipAmount   int64  `json:"tip_amount"`
	ViaCampaign string `json:"via_campaign"`
	RefCode     string `json:"ref_code"`
}

func (h handler) createPledge(c *gin.Context) {
	var req createPledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pledge := &models.Pledge{
		TriggerID:   req.TriggerID,
		ProfileID:   req.ProfileID,
		Amount:      req.Amount,
		TipAmount:   req.TipAmount,
		ViaCampaign: req.ViaCampaign,
		RefCode:     req.RefCode,
	}
	if err := h.pledges.CreatePledge(c.Request.Context(), pledge); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, pledgeJSON(pledge))
}

func (h handler) getPledge(c *gin.Context) {
	view, err := h.pledges.GetPledge(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pledgeViewJSON(view))
}

func (h handler) cancelPledge(c *gin.Context) {
	if err := h.pledges.CancelPledge(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type createTriggerRequest struct {
	Title string `json:"title"`
}

func (h handler) createTrigger(c *gin.Context) {
	var req createTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trigger, err := h.triggers.CreateTrigger(c.Request.Context(), req.Title)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, triggerJSON(trigger, 0, 0))
}

func (h handler) getTrigger(c *gin.Context) {
	view, err := h.triggers.GetTrigger(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, triggerJSON(view.Trigger, view.ContributionCount, view.ContributionsTotal))
}

type resolveTriggerRequest struct {
	Result      string `json:"result"`
	Description string `json:"description"`
	Recipients  []struct {
		RecipientID string `json:"recipient_id"`
		Weight      int64  `json:"weight"`
	} `json:"recipients"`
}

func (h handler) resolveTrigger(c *gin.Context) {
	var req resolveTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := models.ParseOutcomeResult(req.Result)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	outcome := &models.Outcome{Result: result, Description: req.Description}
	for _, or := range req.Recipients {
		outcome.Recipients = append(outcome.Recipients, models.OutcomeRecipient{
			RecipientID: or.RecipientID,
			Weight:      or.Weight,
		})
	}

	summary, err := h.triggers.Resolve(c.Request.Context(), c.Param("id"), outcome)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trigger_id":   summary.TriggerID,
		"result":       string(summary.Result),
		"pledges":      summary.Total,
		"succeeded":    summary.Succeeded,
		"with_problem": summary.WithProblem,
		"failed":       summary.Failed,
		"vacated":      summary.Vacated,
	})
}

func (h handler) payerSummary(c *gin.Context) {
	summary, err := h.pledges.PayerSummary(c.Request.Context(), c.Param("profile_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profile_id":        summary.ProfileID,
		"pledge_count":      summary.PledgeCount,
		"total_pledged":     summary.TotalPledged,
		"total_charged":     summary.TotalCharged,
		"total_contributed": summary.TotalContributed,
		"total_fees":        summary.TotalFees,
	})
}
