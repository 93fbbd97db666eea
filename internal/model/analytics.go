package model

type SeverityCount struct {
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
}

// Analytics 全局统计
type Analytics struct {
	TotalAlerts       int             `json:"total_alerts"`
	Deliveries        int             `json:"deliveries"`
	Read              int             `json:"read"`
	SnoozedToday      int             `json:"snoozed_today"`
	SeverityBreakdown []SeverityCount `json:"severity_breakdown"`
}
