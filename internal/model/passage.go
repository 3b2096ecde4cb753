package model

// Passage 是检索得到的文档段落，进入回复后不再修改。
type Passage struct {
	ID       string
	Content  string
	Source   string
	Page     int
	Metadata map[string]any
}

// SourcePassage 是段落在接口与持久化中的表示。
type SourcePassage struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
}

// ToSource 生成段落的对外表示，metadata 中总是包含 source 与 page。
func (p Passage) ToSource() SourcePassage {
	meta := make(map[string]any, len(p.Metadata)+2)
	for k, v := range p.Metadata {
		meta[k] = v
	}
	meta["source"] = p.Source
	meta["page"] = p.Page
	return SourcePassage{PageContent: p.Content, Metadata: meta}
}

// ToSources 按顺序转换一组段落。
func ToSources(passages []Passage) []SourcePassage {
	out := make([]SourcePassage, 0, len(passages))
	for _, p := range passages {
		out = append(out, p.ToSource())
	}
	return out
}
