package generation

import (
	"fmt"

	"articleforge-api/internal/domain/entity"
	apperrors "articleforge-api/pkg/errors"
)

// Operation 会话入口操作
type Operation string

const (
	OpTitles  Operation = "titles"
	OpOutline Operation = "outline"
	OpArticle Operation = "article"
	OpEnhance Operation = "enhance"
)

// runningStage 操作执行期间会话所处的阶段
func (op Operation) runningStage() entity.GenerationStage {
	switch op {
	case OpTitles:
		return entity.StageGeneratingTitles
	case OpOutline:
		return entity.StageGeneratingOutline
	case OpArticle:
		return entity.StageGeneratingDraft
	default:
		return entity.StageEnhancing
	}
}

// successStage 操作成功后的阶段
func (op Operation) successStage() entity.GenerationStage {
	switch op {
	case OpTitles, OpOutline:
		return entity.StageIdle
	default:
		return entity.StageComplete
	}
}

// CheckEntry 校验当前阶段能否发起 op
//
// failedAt 是进入 Failed 之前正在执行的阶段，仅在 stage 为 Failed 时有意义。
func CheckEntry(stage, failedAt entity.GenerationStage, op Operation) error {
	if stage.Running() {
		return apperrors.ErrAlreadyGenerating
	}

	switch op {
	case OpTitles, OpOutline, OpArticle:
		switch stage {
		case entity.StageIdle, entity.StageComplete, entity.StageFailed:
			return nil
		}
	case OpEnhance:
		switch stage {
		case entity.StageComplete:
			return nil
		case entity.StageFailed:
			if failedAt == entity.StageEnhancing {
				return nil
			}
		}
	default:
		return apperrors.ErrInvalidStage.WithDetail(fmt.Sprintf("unknown operation %q", op))
	}
	return apperrors.ErrInvalidTransition.WithDetail(fmt.Sprintf("cannot %s from stage %s", op, stage))
}
