package pipeline

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/realtime-booklist/internal/export"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Stage is the coarse phase of the production line.
type Stage string

// Supported stages.
const (
	StageIdle        Stage = "idle"
	StageDiscovering Stage = "discovering"
	StageGenerating  Stage = "generating"
	StageRendering   Stage = "rendering"
	StagePackaging   Stage = "packaging"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// User-facing status copy.
const (
	MsgScanning   = "正在接入大数据阵列扫描热点..."
	MsgGenerating = "正在并行生成内容..."
	MsgPackaging  = "封装数据资产包..."
	MsgDone       = "产线清空，任务圆满完成！"
	MsgBlocked    = "产线阻塞，请检查 API 配额或网络"
	MsgNoKey      = "未配置 API 密钥，请先完成设置"
	MsgNoTargets  = "未发现可生产的新书目"
	MsgExport     = "资产封装失败，本轮产出已丢弃"
)

// MsgSampling is shown while subject is being rendered.
func MsgSampling(subject string) string {
	return fmt.Sprintf("正在对《%s》执行物理采样...", subject)
}

// State is the observable pipeline state. Only the controller writes it;
// subscribers receive copies.
type State struct {
	RunID          string                    `json:"runId,omitempty"`
	Running        bool                      `json:"running"`
	Stage          Stage                     `json:"stage"`
	Message        string                    `json:"message"`
	Slots          []studio.Target           `json:"slots"`
	Buffer         []studio.GeneratedContent `json:"buffer,omitempty"`
	RenderingIndex int                       `json:"renderingIndex"`
	Artifact       *export.Artifact          `json:"artifact,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

func (s State) clone() State {
	out := s
	out.Slots = append([]studio.Target(nil), s.Slots...)
	if s.Buffer != nil {
		out.Buffer = append([]studio.GeneratedContent(nil), s.Buffer...)
	}
	if s.Artifact != nil {
		art := *s.Artifact
		out.Artifact = &art
	}
	return out
}

// failureMessage maps a run error onto status copy.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, studio.ErrNoAPIKey):
		return MsgNoKey
	case errors.Is(err, studio.ErrNoTargets):
		return MsgNoTargets
	case errors.Is(err, studio.ErrExportFailure):
		return MsgExport
	default:
		return MsgBlocked
	}
}

func sendLatest(ch chan State, v State) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
