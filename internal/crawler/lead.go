package crawler

import "time"

// Lead 一条可用于触达的商家联系人。
type Lead struct {
	Name         string    `json:"name"`
	Phone        string    `json:"phone"` // 规范化号码：55 + 区号 + 号码
	Origin       string    `json:"origin"`
	Website      string    `json:"website,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Request 一次抽取请求。
type Request struct {
	Phrase   string
	City     string
	Limit    int
	TenantID string
	JobID    string
}

// Query 返回在地图中搜索的完整关键词。
func (r Request) Query() string {
	return r.Phrase + " " + r.City
}

// Result 抽取结果，Leads 按发现顺序排列且长度不超过 Limit。
type Result struct {
	Leads    []Lead
	Tier     string // 最后一次尝试使用的出口层级
	Attempts int
	Windows  int // 成功返回的结果窗口数
	Blocked  string
	Duration time.Duration
}

// Progress 抽取进度事件。
type Progress struct {
	Message string
	Percent int
	Count   int
}

// ProgressFunc 接收进度事件，可为 nil。
type ProgressFunc func(Progress)

func (f ProgressFunc) emit(p Progress) {
	if f != nil {
		f(p)
	}
}
