package generation

import (
	"errors"
	"testing"

	"articleforge-api/internal/domain/entity"
	apperrors "articleforge-api/pkg/errors"
)

func TestCheckEntryTable(t *testing.T) {
	ok := error(nil)
	cases := []struct {
		stage    entity.GenerationStage
		failedAt entity.GenerationStage
		op       Operation
		want     error
	}{
		{entity.StageIdle, "", OpTitles, ok},
		{entity.StageIdle, "", OpOutline, ok},
		{entity.StageIdle, "", OpArticle, ok},
		{entity.StageIdle, "", OpEnhance, apperrors.ErrInvalidTransition},
		{entity.StageComplete, "", OpTitles, ok},
		{entity.StageComplete, "", OpEnhance, ok},
		{entity.StageFailed, entity.StageGeneratingDraft, OpArticle, ok},
		{entity.StageFailed, entity.StageGeneratingDraft, OpEnhance, apperrors.ErrInvalidTransition},
		{entity.StageFailed, entity.StageEnhancing, OpEnhance, ok},
		{entity.StageGeneratingTitles, "", OpTitles, apperrors.ErrAlreadyGenerating},
		{entity.StageGeneratingOutline, "", OpArticle, apperrors.ErrAlreadyGenerating},
		{entity.StageGeneratingDraft, "", OpOutline, apperrors.ErrAlreadyGenerating},
		{entity.StageEnhancing, "", OpEnhance, apperrors.ErrAlreadyGenerating},
	}

	for _, tc := range cases {
		err := CheckEntry(tc.stage, tc.failedAt, tc.op)
		if tc.want == nil {
			if err != nil {
				t.Fatalf("%s from %s: unexpected error %v", tc.op, tc.stage, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s from %s: err = %v, want %v", tc.op, tc.stage, err, tc.want)
		}
	}
}

func TestCheckEntryUnknownOperation(t *testing.T) {
	err := CheckEntry(entity.StageIdle, "", Operation("publish"))
	if !errors.Is(err, apperrors.ErrInvalidStage) {
		t.Fatalf("err = %v, want invalid stage", err)
	}
}
