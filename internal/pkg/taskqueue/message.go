package taskqueue

import "time"

// TaskMessage 表示任务队列中的消息结构。
//
// 消息只携带任务标识，任务参数保存在任务记录中，由 worker 读取。
type TaskMessage struct {
	JobID     string    `json:"job_id"`    // 任务 ID
	TenantID  string    `json:"tenant_id"` // 租户 ID
	Action    string    `json:"action"`    // 操作类型，目前只有 "extract"
	Attempt   int       `json:"attempt"`   // 本次投递对应的尝试序号，从 1 开始
	Timestamp time.Time `json:"timestamp"` // 消息创建时间
	Source    string    `json:"source"`    // 消息来源: "api" (新提交), "retry" (延迟重试)
}

// ActionExtract 抽取线索。
const ActionExtract = "extract"

// NewExtractMessage 创建一个首次执行的抽取消息。
func NewExtractMessage(jobID, tenantID, source string) *TaskMessage {
	return &TaskMessage{
		JobID:     jobID,
		TenantID:  tenantID,
		Action:    ActionExtract,
		Attempt:   1,
		Timestamp: time.Now(),
		Source:    source,
	}
}

// NextAttempt 基于当前消息创建下一次尝试的消息。
func (m *TaskMessage) NextAttempt() *TaskMessage {
	return &TaskMessage{
		JobID:     m.JobID,
		TenantID:  m.TenantID,
		Action:    m.Action,
		Attempt:   m.Attempt + 1,
		Timestamp: time.Now(),
		Source:    "retry",
	}
}
