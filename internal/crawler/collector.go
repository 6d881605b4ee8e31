package crawler

import (
	"fmt"
	"strings"
	"time"

	"mapleads/internal/geo"
)

// Collector 对候选项执行去重、号码规范化与区号过滤，按发现顺序累积线索。
//
// Collector 不是并发安全的，调用方需按窗口偏移顺序串行调用 Add。
type Collector struct {
	limit         int
	areaCodes     []string
	origin        string
	progressEvery int
	onProgress    ProgressFunc
	now           func() time.Time

	seenNames  map[string]struct{}
	seenPhones map[string]struct{}
	leads      []Lead

	// 丢弃原因计数
	DroppedDuplicateName  int
	DroppedInvalidPhone   int
	DroppedAreaCode       int
	DroppedDuplicatePhone int
}

// NewCollector 创建收集器。
//
// 参数:
//   - limit: 最多接受的线索数，<=0 时不接受任何线索
//   - areaCodes: 城市区号集合，为空表示不过滤
//   - origin: 写入线索的来源标签
//   - progressEvery: 每接受多少条上报一次进度，<=0 时取 10
//   - onProgress: 进度回调，可为 nil
func NewCollector(limit int, areaCodes []string, origin string, progressEvery int, onProgress ProgressFunc) *Collector {
	if limit < 0 {
		limit = 0
	}
	if progressEvery <= 0 {
		progressEvery = 10
	}
	return &Collector{
		limit:         limit,
		areaCodes:     areaCodes,
		origin:        origin,
		progressEvery: progressEvery,
		onProgress:    onProgress,
		now:           time.Now,
		seenNames:     make(map[string]struct{}),
		seenPhones:    make(map[string]struct{}),
	}
}

// Full 是否已达到上限。
func (c *Collector) Full() bool {
	return len(c.leads) >= c.limit
}

// Count 已接受的线索数。
func (c *Collector) Count() int {
	return len(c.leads)
}

// Add 处理一个候选项，返回是否被接受。
func (c *Collector) Add(cand Candidate) bool {
	if c.Full() {
		return false
	}

	// 名称去重在规范化之前，先到先得
	nameKey := strings.ToLower(strings.TrimSpace(cand.Name))
	if nameKey == "" {
		return false
	}
	if _, ok := c.seenNames[nameKey]; ok {
		c.DroppedDuplicateName++
		return false
	}
	c.seenNames[nameKey] = struct{}{}

	phone, ok := NormalizePhone(cand.RawPhone)
	if !ok {
		c.DroppedInvalidPhone++
		return false
	}
	if !geo.MatchesAreaCode(phone, c.areaCodes) {
		c.DroppedAreaCode++
		return false
	}
	if _, dup := c.seenPhones[phone]; dup {
		c.DroppedDuplicatePhone++
		return false
	}
	c.seenPhones[phone] = struct{}{}

	c.leads = append(c.leads, Lead{
		Name:         strings.TrimSpace(cand.Name),
		Phone:        phone,
		Origin:       c.origin,
		Website:      cand.Website,
		DiscoveredAt: c.now(),
	})

	if n := len(c.leads); n%c.progressEvery == 0 && n < c.limit {
		c.onProgress.emit(Progress{
			Message: fmt.Sprintf("collected %d/%d leads", n, c.limit),
			Percent: c.percent(),
			Count:   n,
		})
	}
	return true
}

// AddAll 依次处理一批候选项，达到上限后停止，返回本批接受数。
func (c *Collector) AddAll(cands []Candidate) int {
	accepted := 0
	for _, cand := range cands {
		if c.Full() {
			break
		}
		if c.Add(cand) {
			accepted++
		}
	}
	return accepted
}

// Finish 上报 100% 进度并返回线索副本。
func (c *Collector) Finish() []Lead {
	c.onProgress.emit(Progress{
		Message: fmt.Sprintf("extraction finished: %d leads", len(c.leads)),
		Percent: 100,
		Count:   len(c.leads),
	})
	return c.Leads()
}

// Leads 返回当前线索的副本。
func (c *Collector) Leads() []Lead {
	return append([]Lead(nil), c.leads...)
}

func (c *Collector) percent() int {
	if c.limit <= 0 {
		return 100
	}
	return len(c.leads) * 100 / c.limit
}
