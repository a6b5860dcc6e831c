package generation

import (
	"regexp"
	"strings"

	"articleforge-api/internal/domain/entity"
)

var (
	listMarker   = regexp.MustCompile(`^\s*(?:[-*•+]\s+|\(?\d{1,3}[.)]\s+|#{1,6}\s+)`)
	outlineLine  = regexp.MustCompile(`^\s*(?:#{1,6}\s*)?\(?(\d{1,3})[.)]\s*(.+)$`)
	briefSplit   = regexp.MustCompile(`\s+[-–—]\s+`)
	quoteCutset  = "\"'“”‘’`*_"
	titlePrefix  = regexp.MustCompile(`(?i)^(?:title|headline)\s*\d*\s*:\s*`)
	sectionHead  = regexp.MustCompile(`(?m)^##\s+`)
	codeFenceRaw = "```"
)

// cleanItem 去除编号、项目符号、引号与 Markdown 强调
func cleanItem(s string) string {
	s = strings.TrimSpace(s)
	s = listMarker.ReplaceAllString(s, "")
	s = titlePrefix.ReplaceAllString(s, "")
	s = strings.Trim(strings.TrimSpace(s), quoteCutset)
	return strings.TrimSpace(s)
}

// splitItems 有换行时按行切分，否则按逗号切分
func splitItems(raw string) []string {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, codeFenceRaw, ""))
	if strings.Contains(raw, "\n") {
		return strings.Split(raw, "\n")
	}
	return strings.Split(raw, ",")
}

// ParseList 解析列表输出，按大小写不敏感去重并保持顺序；limit<=0 不截断
func ParseList(raw string, limit int) []string {
	out := make([]string, 0)
	seen := make(map[string]struct{})
	for _, item := range splitItems(raw) {
		item = cleanItem(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ParseTitles 解析标题候选，最多保留 count 个
func ParseTitles(raw string, count int) []string {
	return ParseList(raw, entity.ClampTitleCount(count))
}

// ParseKeywords 关键词始终按逗号与换行同时切分
func ParseKeywords(raw string) []string {
	return ParseList(strings.ReplaceAll(strings.TrimSpace(raw), "\n", ","), 0)
}

// ParseOutline 解析 "N. 标题 - 简介" 格式的大纲，每个段落分配新 ID
//
// 没有编号行时退化为按行解析，忽略空行与前后说明文字。
func ParseOutline(raw string) []entity.OutlineSection {
	lines := strings.Split(strings.ReplaceAll(raw, codeFenceRaw, ""), "\n")

	var sections []entity.OutlineSection
	for _, line := range lines {
		m := outlineLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if s, ok := sectionFromLine(m[2]); ok {
			sections = append(sections, s)
		}
	}
	if len(sections) > 0 {
		return sections
	}

	for _, line := range lines {
		if s, ok := sectionFromLine(line); ok {
			sections = append(sections, s)
		}
	}
	return sections
}

func sectionFromLine(line string) (entity.OutlineSection, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return entity.OutlineSection{}, false
	}
	title, brief := line, ""
	if loc := briefSplit.FindStringIndex(line); loc != nil {
		title, brief = line[:loc[0]], line[loc[1]:]
	}
	title = cleanItem(title)
	brief = strings.TrimSpace(strings.Trim(strings.TrimSpace(brief), quoteCutset))
	if title == "" {
		return entity.OutlineSection{}, false
	}
	return entity.NewOutlineSection(title, brief), true
}

// splitDraftSections 按 "## " 二级标题切分初稿，返回各段（含标题行）
func splitDraftSections(draft string) []string {
	locs := sectionHead.FindAllStringIndex(draft, -1)
	parts := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(draft)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		parts = append(parts, strings.TrimSpace(draft[loc[0]:end]))
	}
	return parts
}
