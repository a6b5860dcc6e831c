package generation

import "articleforge-api/internal/domain/entity"

// Stats 文章统计
type Stats struct {
	WordCount   int
	ReadingTime int
}

// ComputeStats 按空白切分计词，阅读时长按每分钟 200 词向上取整
func ComputeStats(content string) Stats {
	words := entity.CountWords(content)
	return Stats{WordCount: words, ReadingTime: entity.ReadingMinutes(words)}
}
