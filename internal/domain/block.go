package domain

import "fmt"

type BlockType string

const (
	BlockBio          BlockType = "bio"
	BlockProjects     BlockType = "projects"
	BlockSkills       BlockType = "skills"
	BlockBlog         BlockType = "blog"
	BlockTestimonials BlockType = "testimonials"
	BlockContact      BlockType = "contact"
	BlockResume       BlockType = "resume"
	BlockExperience   BlockType = "experience"
	BlockEducation    BlockType = "education"
)

// Block 组合进 Portfolio 的内容单元；type 创建后不可变
type Block struct {
	ID      string         `json:"id"`
	Type    BlockType      `json:"type"`
	Content map[string]any `json:"content"`
	Order   int            `json:"order"`
	Visible bool           `json:"visible"`
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindArray
)

// 每种类型的必填字段及其 JSON 形状；未列出的键透传
var blockSchemas = map[BlockType]map[string]fieldKind{
	BlockBio:          {"headline": kindString},
	BlockProjects:     {"items": kindArray},
	BlockSkills:       {"items": kindArray},
	BlockBlog:         {"items": kindArray},
	BlockTestimonials: {"items": kindArray},
	BlockContact:      {"email": kindString},
	BlockResume:       {"url": kindString},
	BlockExperience:   {"items": kindArray},
	BlockEducation:    {"items": kindArray},
}

func ValidBlockType(t BlockType) bool {
	_, ok := blockSchemas[t]
	return ok
}

// ValidateContent 在边界处按类型校验内容形状，通过后内容才进入聚合
func ValidateContent(t BlockType, content map[string]any) error {
	schema, ok := blockSchemas[t]
	if !ok {
		return Invalid("type", fmt.Sprintf("unknown block type %q", t))
	}
	if content == nil {
		return Invalid("content", "content is required")
	}
	for key, kind := range schema {
		v, present := content[key]
		if !present {
			return Invalid("content."+key, "required field missing for type "+string(t))
		}
		switch kind {
		case kindString:
			s, isStr := v.(string)
			if !isStr || s == "" {
				return Invalid("content."+key, "must be a non-empty string")
			}
		case kindArray:
			if _, isArr := v.([]any); !isArr {
				return Invalid("content."+key, "must be an array")
			}
		}
	}
	return nil
}

func (b *Block) clone() Block {
	out := *b
	out.Content = cloneMap(b.Content)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
