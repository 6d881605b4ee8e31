package webhook

import "time"

// 事件类型
const (
	EventCompleted = "map_scraper_completed"
	EventFailed    = "map_scraper_failed"
)

// Event webhook 请求体。
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// CompletedData 抽取成功事件数据。
type CompletedData struct {
	Niche          string    `json:"niche"`
	City           string    `json:"city"`
	LeadsCollected int       `json:"leads_collected"`
	CampaignID     *string   `json:"campaignId"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

// FailedData 抽取失败事件数据。
type FailedData struct {
	Niche  string `json:"niche"`
	City   string `json:"city"`
	Error  string `json:"error"`
	Status string `json:"status"`
}

// Completed 构造成功事件，campaignID 为空时序列化为 null。
func Completed(niche, city string, leads int, campaignID string, at time.Time) Event {
	var cid *string
	if campaignID != "" {
		cid = &campaignID
	}
	return Event{
		Event: EventCompleted,
		Data: CompletedData{
			Niche:          niche,
			City:           city,
			LeadsCollected: leads,
			CampaignID:     cid,
			Status:         "success",
			Timestamp:      at.UTC(),
		},
	}
}

// Failed 构造失败事件。
func Failed(niche, city, errMsg string) Event {
	return Event{
		Event: EventFailed,
		Data: FailedData{
			Niche:  niche,
			City:   city,
			Error:  errMsg,
			Status: "error",
		},
	}
}
