package model

import (
	"strings"
	"time"
)

// Category 邮件工作流分类，只由展示层修改
type Category string

const (
	CategoryActive  Category = "active"
	CategoryRespond Category = "respond"
	CategoryNotify  Category = "notify"
	CategoryDone    Category = "done"
)

// ParseCategory 解析分类名，大小写不敏感
func ParseCategory(s string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryActive, CategoryRespond, CategoryNotify, CategoryDone:
		return c, true
	}
	return "", false
}

// Message 一封邮件记录
// 核心字段由 ingestion 写入；Analyzed/Analysis/Embedding/Attempts/Parked/LastError 只由 agent 写入
type Message struct {
	ID         int64
	Sender     string
	Subject    string
	Body       string
	ReceivedAt time.Time
	Category   Category
	Analyzed   bool
	Embedding  []float32
	Analysis   *AnalysisResult

	Attempts  int
	Parked    bool
	LastError string
}

// Text 返回用于 embedding 的文本
func (m *Message) Text() string {
	return strings.TrimSpace(m.Subject + "\n\n" + m.Body)
}

// Clone 深拷贝，内存存储用它避免调用方修改内部状态
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Embedding != nil {
		c.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.Analysis != nil {
		c.Analysis = m.Analysis.Clone()
	}
	return &c
}

// ScoredMessage 检索产生的 (候选邮件, 相似度) 对，不落库
type ScoredMessage struct {
	Message *Message
	Score   float64
}
