package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Citation 引用来源；校验失败后 URL 被清空且不可恢复
type Citation struct {
	ID             int     `json:"id"`
	Title          string  `json:"title"`
	URL            string  `json:"url,omitempty"`
	RelevanceScore float64 `json:"relevance_score"` // 0-10
	Unverified     bool    `json:"unverified,omitempty"`
}

type KeyDevelopment struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Citations   []int  `json:"citations,omitempty"`
}

// Report 研究结果（provider 结构化输出）
type Report struct {
	ExecutiveSummary string           `json:"executive_summary"`
	KeyDevelopments  []KeyDevelopment `json:"key_developments"`
	Citations        []Citation       `json:"citations"`
}

// CitationCheck 单个引用 URL 的校验结果
type CitationCheck struct {
	CitationID    int    `json:"citation_id"`
	URL           string `json:"url"`
	IsValid       bool   `json:"is_valid"`      // 语法合法
	IsAccessible  bool   `json:"is_accessible"` // 2xx
	HasContent    bool   `json:"has_content"`
	StatusCode    int    `json:"status_code,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	ContentLength int    `json:"content_length,omitempty"` // 去标签后的字符数
	Error         string `json:"error,omitempty"`
}

// Usable reports whether the citation may keep its URL.
func (c CitationCheck) Usable() bool {
	return c.IsValid && c.IsAccessible && c.HasContent
}

// Job 一次对话轮次的研究任务
type Job struct {
	TurnID string `json:"turn_id"`
	UserID string `json:"user_id"`
	Status Status `json:"status"`

	ExecutiveSummary   string           `json:"executive_summary,omitempty"`
	KeyDevelopments    []KeyDevelopment `json:"key_developments,omitempty"`
	Citations          []Citation       `json:"citations,omitempty"`
	CitationValidation []CitationCheck  `json:"citation_validation,omitempty"`

	FinalText       string `json:"final_text,omitempty"`
	ResultMessageID string `json:"result_message_id,omitempty"`
	Error           string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	Timestamp time.Time `json:"timestamp"` // 最近一次状态变化
}

func (j *Job) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Clone returns a deep copy safe to hand outside the store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.KeyDevelopments != nil {
		cp.KeyDevelopments = make([]KeyDevelopment, len(j.KeyDevelopments))
		for i, d := range j.KeyDevelopments {
			d.Citations = append([]int(nil), d.Citations...)
			cp.KeyDevelopments[i] = d
		}
	}
	cp.Citations = append([]Citation(nil), j.Citations...)
	cp.CitationValidation = append([]CitationCheck(nil), j.CitationValidation...)
	return &cp
}

// Result 完成时写入 job 的内容
type Result struct {
	Report          Report
	Checks          []CitationCheck
	FinalText       string
	ResultMessageID string
}
