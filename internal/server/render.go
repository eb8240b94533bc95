package server

import (
	"github.com/gin-gonic/gin"

	"github.com/pledgefund/backend/internal/models"
	"github.com/pledgefund/backend/internal/service"
)

// Response shapes. Amounts are integer minor units throughout; the card
// hash and gateway token never leave the server.

func profileJSON(p *models.Profile) gin.H {
	return gin.H{
		"id":             p.ID,
		"schema_version": p.SchemaVersion,
		"name_first":     p.NameFirst,
		"name_last":      p.NameLast,
		"city":           p.City,
		"state":          p.State,
		"card_last_four": p.CardLastFour,
		"created_at":     p.CreatedAt,
	}
}

func pledgeJSON(p *models.Pledge) gin.H {
	return gin.H{
		"id":           p.ID,
		"trigger_id":   p.TriggerID,
		"profile_id":   p.ProfileID,
		"amount":       p.Amount,
		"tip_amount":   p.TipAmount,
		"via_campaign": p.ViaCampaign,
		"ref_code":     p.RefCode,
		"status":       string(p.Status),
		"created_at":   p.CreatedAt,
	}
}

func pledgeViewJSON(view *service.PledgeView) gin.H {
	out := pledgeJSON(view.Pledge)
	if view.Execution != nil {
		exec := gin.H{
			"id":         view.Execution.ID,
			"charged":    view.Execution.Charged,
			"fees":       view.Execution.Fees,
			"problem":    string(view.Execution.Problem),
			"created_at": view.Execution.CreatedAt,
		}
		if view.Execution.ProblemDetail != "" {
			exec["problem_detail"] = view.Execution.ProblemDetail
		}
		if view.Execution.TransactionID != "" {
			exec["transaction_id"] = view.Execution.TransactionID
		}
		out["execution"] = exec
	}
	if len(view.Contributions) > 0 {
		contribs := make([]gin.H, 0, len(view.Contributions))
		for _, c := range view.Contributions {
			contribs = append(contribs, gin.H{
				"recipient_id": c.RecipientID,
				"amount":       c.Amount,
			})
		}
		out["contributions"] = contribs
	}
	return out
}

func triggerJSON(t *models.Trigger, contribCount, contribTotal int64) gin.H {
	out := gin.H{
		"id":            t.ID,
		"title":         t.Title,
		"status":        string(t.Status),
		"pledge_count":  t.PledgeCount,
		"total_pledged": t.TotalPledged,
		"created_at":    t.CreatedAt,
	}
	if t.Outcome != nil {
		out["outcome"] = t.Outcome
		out["resolved_at"] = t.ResolvedAt
	}
	if t.Status == models.TriggerExecuted {
		out["contribution_count"] = contribCount
		out["contributions_total"] = contribTotal
	}
	return out
}

func notificationsJSON(notifications []*models.Notification) []gin.H {
	out := make([]gin.H, 0, len(notifications))
	for _, n := range notifications {
		item := gin.H{
			"id":         n.ID,
			"pledge_id":  n.PledgeID,
			"kind":       n.Kind,
			"text":       n.Text,
			"created_at": n.CreatedAt,
		}
		if n.Acknowledged() {
			item["acknowledged_at"] = n.AcknowledgedAt
		}
		out = append(out, item)
	}
	return out
}
